package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsTotal tracks orchestrated anchor calls by outcome
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorgate_calls_total",
			Help: "Total number of orchestrated anchor calls",
		},
		[]string{"anchor", "operation", "outcome"},
	)

	// CallAttempts tracks how many attempts each call needed
	CallAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anchorgate_call_attempts",
			Help:    "Attempts made per orchestrated call",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"anchor"},
	)

	// CallDuration tracks wall time per call including backoff
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anchorgate_call_duration_seconds",
			Help:    "Orchestrated call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"anchor"},
	)

	// ErrorsTotal tracks classified failures
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorgate_errors_total",
			Help: "Total number of classified call failures",
		},
		[]string{"anchor", "category", "code"},
	)

	// RateLimitEncounters tracks throttling by source (gate or anchor)
	RateLimitEncounters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorgate_rate_limit_encounters_total",
			Help: "Total number of rate limit encounters",
		},
		[]string{"key", "source"},
	)

	// RateLimitBackoff tracks the delays chosen after throttled attempts
	RateLimitBackoff = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anchorgate_rate_limit_backoff_seconds",
			Help:    "Backoff delay after a throttled attempt",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"key"},
	)

	// RateLimitRecoveries tracks calls that succeeded after retrying
	RateLimitRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorgate_recoveries_total",
			Help: "Total number of calls that succeeded after retrying",
		},
		[]string{"key"},
	)

	// AnchorAvailable is 1 while an anchor is eligible for fallback selection
	AnchorAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anchorgate_anchor_available",
			Help: "Whether the anchor is available for selection (1) or marked down (0)",
		},
		[]string{"anchor"},
	)

	// ProbeFailures tracks failed scheduled anchor probes
	ProbeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorgate_probe_failures_total",
			Help: "Total number of failed anchor probes",
		},
		[]string{"anchor"},
	)

	// DBConnectionPoolUsage tracks the percentage of DB connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anchorgate_db_connection_pool_usage",
			Help: "Percentage of database connections in use",
		},
	)
)
