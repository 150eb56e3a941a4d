package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olivepanel_api_calls_total",
			Help: "Total external API calls",
		},
		[]string{"source", "series", "status"},
	)

	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "olivepanel_api_latency_seconds",
			Help:    "External API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "series"},
	)

	PointsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olivepanel_points_ingested_total",
			Help: "Total series points successfully ingested",
		},
		[]string{"source", "series"},
	)

	PanelRowsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "olivepanel_panel_rows_total",
			Help: "Panel rows entering the usability filter in the last run",
		},
	)

	PanelRowsUsable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "olivepanel_panel_rows_usable",
			Help: "Panel rows retained by the usability filter in the last run",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "olivepanel_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	LastSnapshotTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "olivepanel_last_snapshot_timestamp_seconds",
			Help: "Unix time of the most recent completed pipeline run",
		},
	)
)
