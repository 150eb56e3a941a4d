package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/olivepanel/internal/store"
)

// Server exposes operational endpoints in serve mode: health, metrics and
// read-only JSON views of the latest snapshots.
type Server struct {
	store *store.Store
	port  string
}

func NewServer(st *store.Store, port string) *Server {
	return &Server{store: st, port: port}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/ingest-runs", s.handleIngestRuns)
	mux.HandleFunc("/api/panel", s.handlePanel)
	mux.HandleFunc("/api/features", s.handleFeatures)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type healthStatus struct {
	Status      string     `json:"status"`
	LastIngest  *time.Time `json:"last_ingest,omitempty"`
	FailedRuns  int        `json:"failed_runs"`
	RecentRuns  int        `json:"recent_runs"`
	StaleIngest bool       `json:"stale_ingest"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentIngestRuns(20)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := healthStatus{Status: "ok", RecentRuns: len(runs)}
	for _, run := range runs {
		if !run.Success {
			health.FailedRuns++
		}
	}
	if len(runs) > 0 {
		last := runs[0].StartedAt
		health.LastIngest = &last
		// weekly cadence plus slack
		health.StaleIngest = time.Since(last) > 8*24*time.Hour
	} else {
		health.StaleIngest = true
	}
	if health.StaleIngest || health.FailedRuns > 0 {
		health.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleIngestRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	runs, err := s.store.RecentIngestRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	snapshot := r.URL.Query().Get("snapshot")
	if snapshot == "" {
		http.Error(w, "snapshot query parameter required", http.StatusBadRequest)
		return
	}

	rows, err := s.store.GetPanelSnapshot(snapshot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	snapshot := r.URL.Query().Get("snapshot")
	if snapshot == "" {
		http.Error(w, "snapshot query parameter required", http.StatusBadRequest)
		return
	}

	rows, err := s.store.GetFeatureSnapshot(snapshot)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}
