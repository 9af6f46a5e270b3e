package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurorawatch_source_calls_total",
			Help: "Total upstream source calls by outcome",
		},
		[]string{"source", "status"},
	)

	SourceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aurorawatch_source_latency_seconds",
			Help:    "Upstream source call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	DetectionsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurorawatch_detections_built_total",
			Help: "Total forecast detections produced by alert builds",
		},
		[]string{"location"},
	)

	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurorawatch_escalations_total",
			Help: "Total escalation alerts emitted",
		},
		[]string{"location"},
	)

	BuildsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurorawatch_builds_skipped_total",
			Help: "Total alert builds skipped",
		},
		[]string{"location", "reason"},
	)

	BuildsDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurorawatch_builds_degraded_total",
			Help: "Total alert builds made while a required source was unavailable",
		},
		[]string{"location"},
	)

	SourceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aurorawatch_source_healthy",
			Help: "Whether a source produced usable data at the last health check",
		},
		[]string{"source"},
	)
)
