package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., switchyard_...).
const namespace = "switchyard"

// lowLatencyBuckets defines custom buckets for the evaluation hot path.
// Standard buckets are too coarse (starting at 5ms), so we add 1ms and 2ms resolution.
// Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL API (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: switchyard_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the control API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ControlPlaneReqTotal counts the total number of HTTP requests.
	// Metric: switchyard_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the control API",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// ENGINE
	// -------------------------------------------------------------------------

	// EvaluationDuration measures engine latency (excluding cache fill).
	// Metric: switchyard_engine_evaluation_seconds
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "evaluation_seconds",
		Help:      "Time taken to evaluate a transaction against the tenant rules",
		Buckets:   lowLatencyBuckets,
	}, []string{"mode"}) // live, test

	// EvaluationsTotal counts evaluations by outcome.
	// Metric: switchyard_engine_evaluations_total
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "evaluations_total",
		Help:      "Total transaction evaluations",
	}, []string{"mode", "outcome"}) // outcome: blocked, routed, unrouted

	// RulesEvaluated tracks how many rules each evaluation walked.
	RulesEvaluated = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rules_evaluated",
		Help:      "Number of rules inspected per evaluation",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 250},
	})

	// -------------------------------------------------------------------------
	// RULE CACHE
	// -------------------------------------------------------------------------

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rule_cache",
		Name:      "hits_total",
		Help:      "Total rule cache hits",
	}, []string{"backend"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rule_cache",
		Name:      "misses_total",
		Help:      "Total rule cache misses (absent or expired)",
	}, []string{"backend"})

	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rule_cache",
		Name:      "invalidations_total",
		Help:      "Total tenant cache evictions caused by rule mutations",
	}, []string{"backend"})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rule_cache",
		Name:      "errors_total",
		Help:      "Total rule cache backend errors",
	}, []string{"backend", "op"})

	// CacheStaleWrites counts refills dropped because the tenant was
	// invalidated while its rules were being loaded.
	CacheStaleWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rule_cache",
		Name:      "stale_writes_total",
		Help:      "Total snapshot writes skipped after a concurrent invalidation",
	}, []string{"backend"})

	// CacheItems reports the number of tenants held by the in-process cache.
	// Otter tracks item count efficiently, but not byte size.
	CacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rule_cache",
		Name:      "items_count",
		Help:      "Current number of tenant entries in the in-process cache",
	})

	// -------------------------------------------------------------------------
	// DECISION RECORDER (Workers)
	// -------------------------------------------------------------------------

	// RecorderJobDuration measures latency from Submit to write finished.
	// Metric: switchyard_recorder_job_processing_duration_seconds
	RecorderJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "job_processing_duration_seconds",
		Help:      "End-to-end latency from submit to write finished",
		Buckets:   prometheus.DefBuckets,
	})

	RecorderJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "jobs_total",
		Help:      "Total recorder jobs processed",
	}, []string{"kind", "status"}) // kind: stats, audit; status: success, fail, dropped

	RecorderQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "queue_depth",
		Help:      "Current number of jobs waiting in the recorder queue",
	})

	// -------------------------------------------------------------------------
	// LIFECYCLE
	// -------------------------------------------------------------------------

	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Total scheduled status transitions applied",
	}, []string{"to", "status"}) // to: ACTIVE, EXPIRED; status: success, fail

	LifecycleSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "sweep_duration_seconds",
		Help:      "Time taken by one lifecycle sweep",
		Buckets:   prometheus.DefBuckets,
	})

	// -------------------------------------------------------------------------
	// NOTIFICATIONS
	// -------------------------------------------------------------------------

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "events_total",
		Help:      "Total rule lifecycle notifications published",
	}, []string{"event", "status"})

	// -------------------------------------------------------------------------
	// DATABASE POOL
	// -------------------------------------------------------------------------

	// DBPoolConnections reports pgxpool connection counts by state.
	// Metric: switchyard_database_pool_connections{state="idle|in_use|total|max"}
	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "connections",
		Help:      "Current PostgreSQL pool connections by state",
	}, []string{"state"})

	DBPoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_count_total",
		Help:      "Cumulative successful connection acquisitions",
	})

	DBPoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections",
	})

	// DBPoolWaitCount counts acquisitions that had to wait for a free connection.
	DBPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "wait_count_total",
		Help:      "Cumulative acquisitions that waited for a connection",
	})
)
