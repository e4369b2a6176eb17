// Package telemetry provides application-level observability for overseer-lite.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<OVERSEER_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Login attempts by outcome
//   - Plex webhook outcomes by status and resolution strategy
//   - Upstream (TMDB, TVDB) request latency and circuit breaker state
//   - Notification deliveries by transport and outcome
//   - Trending cache warm runs
//   - Database connection pool gauge (polled every 30 s)
//
// HTTP metrics use c.FullPath() rather than the raw request URL so that
// user-supplied path segments such as TMDB ids do not explode label cardinality.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// LoginAttemptsTotal counts login attempts by outcome: success, unauthorized,
// rate_limited, invalid_name or error.
//
// Example PromQL queries:
//   - Failed login rate:  rate(login_attempts_total{outcome="unauthorized"}[5m])
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "login_attempts_total",
		Help: "Total number of login attempts, by outcome.",
	},
	[]string{"outcome"},
)

// WebhookEventsTotal counts processed Plex webhook events by outcome status
// (ignored, processed) and the identifier resolution strategy that matched.
//
// Example PromQL queries:
//   - Unmatched library additions:  increase(webhook_events_total{strategy="none"}[1d])
var WebhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of Plex webhook events handled, by status and resolution strategy.",
	},
	[]string{"status", "strategy"},
)

// RequestsFulfilledTotal counts requests flipped to fulfilled, by media kind.
var RequestsFulfilledTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "requests_fulfilled_total",
		Help: "Total number of media requests marked fulfilled, by media kind.",
	},
	[]string{"kind"},
)

// Upstream metrics, recorded by the TMDB and TVDB clients.
//
// UpstreamRequestDuration is labelled by upstream (tmdb, tvdb), operation and
// result (ok, error, not_found, breaker_open).
//
// UpstreamBreakerState is 0 closed, 1 half-open, 2 open.
var (
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of requests to metadata upstreams, by upstream, operation, and result.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream", "operation", "result"},
	)

	UpstreamBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upstream_circuit_breaker_state",
			Help: "Circuit breaker state per upstream (0=closed, 1=half-open, 2=open).",
		},
		[]string{"upstream"},
	)
)

// NotificationsTotal counts notification deliveries by transport and outcome.
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of fulfilment notifications, by transport and outcome.",
	},
	[]string{"transport", "outcome"},
)

// Trending warmer metrics.
var (
	TrendingWarmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trending_warm_duration_seconds",
			Help:    "Duration of a full trending cache warm run.",
			Buckets: prometheus.DefBuckets,
		},
	)

	TrendingWarmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trending_warm_errors_total",
			Help: "Total number of trending lists that failed to refresh, by media type.",
		},
		[]string{"media_type"},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB
// pool. It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// pool statistics every 30 seconds. The goroutine exits when db.Ping fails,
// which happens once main.go closes the pool on shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
