package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool lifecycle metrics
var (
	// PoolState is 0=no_pool, 1=connecting, 2=ready, 3=broken.
	PoolState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leme_db_pool_state",
			Help: "Current state of the shared database pool (0=no_pool, 1=connecting, 2=ready, 3=broken).",
		},
	)

	PoolConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leme_db_pool_connect_attempts_total",
			Help: "Total number of pool connection attempts.",
		},
		[]string{"path", "result"}, // path: "startup", "on_demand"; result: "success", "failure", "discarded"
	)

	PoolInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leme_db_pool_invalidations_total",
			Help: "Total number of pool handles discarded after an error notification.",
		},
		[]string{"reason"}, // reason: "health_check", "query_error"
	)

	PoolConnectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leme_db_pool_connect_duration_seconds",
			Help:    "Duration of pool connection attempts in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 30},
		},
	)
)

// Database connection pool metrics
var (
	DBPoolTotalConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leme_db_pool_total_conns",
			Help: "Total number of connections in the pool.",
		},
	)
	DBPoolIdleConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leme_db_pool_idle_conns",
			Help: "Number of idle connections in the pool.",
		},
	)
	DBPoolInUseConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leme_db_pool_in_use_conns",
			Help: "Number of connections currently in use.",
		},
	)
)

// Report and HTTP metrics
var (
	ReportQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leme_report_queries_total",
			Help: "Total number of report queries executed.",
		},
		[]string{"report", "status"},
	)

	ReportQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leme_report_query_duration_seconds",
			Help:    "Duration of report queries in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"report"},
	)

	ReportRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leme_report_rows",
			Help:    "Number of rows returned per report query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"report"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leme_http_requests_total",
			Help: "Total number of HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leme_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
