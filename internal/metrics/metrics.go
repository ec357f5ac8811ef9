package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Insight service metrics for production monitoring
var (
	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_insight_queries_total",
			Help: "Total number of processed queries",
		},
		[]string{"intent", "mode", "status"}, // status: success/degraded/failed
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_insight_query_duration_seconds",
			Help:    "End-to-end query processing time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"mode"},
	)

	QueryConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubilitics_insight_query_confidence",
			Help:    "Answer confidence distribution",
			Buckets: prometheus.LinearBuckets(0, 0.1, 10),
		},
	)

	// Mode metrics
	ModeSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_insight_mode_selections_total",
			Help: "Total mode decisions by selected mode",
		},
		[]string{"mode", "forced"},
	)

	// Engine metrics
	EngineInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_insight_engine_invocations_total",
			Help: "Total analysis engine invocations",
		},
		[]string{"engine", "status"}, // status: success/error/timeout/skipped
	)

	EngineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_insight_engine_latency_seconds",
			Help:    "Analysis engine latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"engine"},
	)

	EngineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubilitics_insight_engine_state",
			Help: "Engine lifecycle state (0=uninitialized, 1=initializing, 2=ready, 3=failed)",
		},
		[]string{"engine"},
	)

	// Index metrics
	IndexDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubilitics_insight_index_documents",
			Help: "Number of documents in the current index snapshot",
		},
	)

	IndexBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_insight_index_builds_total",
			Help: "Total index builds by result",
		},
		[]string{"result"}, // result: success/fallback
	)

	IndexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubilitics_insight_index_build_duration_seconds",
			Help:    "Index build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Search metrics
	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_insight_search_results",
			Help:    "Number of documents returned by hybrid search",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
		[]string{"semantic"},
	)

	// Action metrics
	ActionExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_insight_action_executions_total",
			Help: "Total external action executions",
		},
		[]string{"action", "status"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_insight_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_insight_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_insight_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

// EngineStateValue maps a lifecycle state name to its gauge value.
func EngineStateValue(state string) float64 {
	switch state {
	case "initializing":
		return 1
	case "ready":
		return 2
	case "failed":
		return 3
	}
	return 0
}
