package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/store"
)

func setupServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewServer(st, "0"), st
}

func TestHealthDegradedWithoutIngest(t *testing.T) {
	srv, _ := setupServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var health struct {
		Status      string `json:"status"`
		StaleIngest bool   `json:"stale_ingest"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if health.Status != "degraded" || !health.StaleIngest {
		t.Errorf("health = %+v, want degraded with stale ingest", health)
	}
}

func TestHealthOKAfterSuccessfulRun(t *testing.T) {
	srv, st := setupServer(t)

	run, err := st.StartIngestRun("fred", "DEXUSEU")
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	run.Success = true
	if err := st.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
}

func TestPanelEndpoint(t *testing.T) {
	srv, st := setupServer(t)

	row := models.PanelRow{
		WeekStart: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		Country:   "IT", Market: "Milan", GradeNorm: "EVOO",
		PriceEurPerL: sql.NullFloat64{Float64: 4.2, Valid: true},
	}
	if err := st.ReplacePanelSnapshot("2024-01-15", []models.PanelRow{row}); err != nil {
		t.Fatalf("ReplacePanelSnapshot: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/panel?snapshot=2024-01-15", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var rows []models.PanelRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 1 || rows[0].GradeNorm != "EVOO" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestPanelEndpointRequiresSnapshot(t *testing.T) {
	srv, _ := setupServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/panel", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
