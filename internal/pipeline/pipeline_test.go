package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/olivepanel/internal/align"
	"github.com/lox/olivepanel/internal/export"
	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/store"
)

func setupPipeline(t *testing.T) (*Pipeline, *store.Store, string) {
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

	out := t.TempDir()
	return New(st, export.NewWriter(out)), st, out
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seed(t *testing.T, st *store.Store) {
	t.Helper()

	fx := []models.RawPoint{
		{Date: day(2024, 1, 2), Value: 1.10},
		{Date: day(2024, 1, 9), Value: 1.10},
		{Date: day(2024, 1, 16), Value: 1.10},
	}
	if err := st.ReplaceSeries(align.SeriesUsdPerEur, fx); err != nil {
		t.Fatalf("seed fx: %v", err)
	}

	spot := []models.SpotPrice{
		{
			Date: day(2024, 1, 3), Country: "IT", Market: "Milan", Grade: "EVOO",
			PriceEurPerL: sql.NullFloat64{Float64: 4.0, Valid: true},
		},
		{
			Date: day(2024, 1, 10), Country: "IT", Market: "Milan", Grade: "EVOO",
			PriceEurPerL: sql.NullFloat64{Float64: 4.2, Valid: true},
		},
		{
			Date: day(2024, 1, 17), Country: "IT", Market: "Milan", Grade: "EVOO",
			PriceEurPerL: sql.NullFloat64{Float64: 4.1, Valid: true},
		},
	}
	if err := st.ReplaceSpotPrices(spot); err != nil {
		t.Fatalf("seed spot: %v", err)
	}

	tariffs := []models.TariffRecord{{HSPrefix: "1509", AdvalPct: 5, SpecificUsdPerKg: 0.2}}
	if err := st.ReplaceTariffs(tariffs); err != nil {
		t.Fatalf("seed tariffs: %v", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	p, st, out := setupPipeline(t)
	seed(t, st)

	if err := p.Run(context.Background(), "2024-01-22"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	panelRows, err := st.GetPanelSnapshot("2024-01-22")
	if err != nil {
		t.Fatalf("GetPanelSnapshot: %v", err)
	}
	if len(panelRows) != 3 {
		t.Fatalf("len(panelRows) = %d, want 3", len(panelRows))
	}

	r := panelRows[0]
	if !r.WeekStart.Equal(day(2024, 1, 1)) {
		t.Errorf("WeekStart = %v, want 2024-01-01", r.WeekStart)
	}
	if !r.UsdPerEur.Valid || r.UsdPerEur.Float64 != 1.10 {
		t.Errorf("UsdPerEur = %+v", r.UsdPerEur)
	}
	if !r.PriceUsdPerL.Valid || r.PriceUsdPerL.Float64 != 4.0*1.10 {
		t.Errorf("PriceUsdPerL = %+v", r.PriceUsdPerL)
	}
	if !r.DutyUsdPerL.Valid {
		t.Errorf("DutyUsdPerL = %+v, want derived", r.DutyUsdPerL)
	}
	if !r.ZBase.Valid {
		t.Errorf("ZBase = %+v, want derived", r.ZBase)
	}

	featureRows, err := st.GetFeatureSnapshot("2024-01-22")
	if err != nil {
		t.Fatalf("GetFeatureSnapshot: %v", err)
	}
	if len(featureRows) != 3 {
		t.Fatalf("len(featureRows) = %d, want 3", len(featureRows))
	}

	last := featureRows[2]
	if !last.Lag1Week.Valid || last.Lag1Week.Float64 != 4.2 {
		t.Errorf("Lag1Week = %+v, want 4.2", last.Lag1Week)
	}
	if !last.Lag2Week.Valid || last.Lag2Week.Float64 != 4.0 {
		t.Errorf("Lag2Week = %+v, want 4.0", last.Lag2Week)
	}

	for _, table := range []string{"weekly_panel", "features", "model_features"} {
		path := filepath.Join(out, table, "snapshot_date=2024-01-22", table+".csv")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing export %s: %v", table, err)
		}
	}
}

func TestRunRerunReplacesSnapshot(t *testing.T) {
	p, st, _ := setupPipeline(t)
	seed(t, st)

	if err := p.Run(context.Background(), "2024-01-22"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := p.Run(context.Background(), "2024-01-22"); err != nil {
		t.Fatalf("Run rerun: %v", err)
	}

	panelRows, err := st.GetPanelSnapshot("2024-01-22")
	if err != nil {
		t.Fatalf("GetPanelSnapshot: %v", err)
	}
	if len(panelRows) != 3 {
		t.Errorf("len(panelRows) = %d after rerun, want 3", len(panelRows))
	}
}

func TestRunFailsWithoutSpotPrices(t *testing.T) {
	p, _, _ := setupPipeline(t)

	if err := p.Run(context.Background(), "2024-01-22"); err == nil {
		t.Fatal("Run = nil error, want failure with no spot prices")
	}
}
