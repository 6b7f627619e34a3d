// Package telemetry provides application-level observability for the membership service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served
// on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<MBR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Membership reconciliation outcomes and compensating rollbacks
//   - Email change outcomes, including partial syncs that need a retry
//   - Side effects: notification emails, lifecycle events, advisory lock waits
//   - Database connection pool gauge (polled every 30 s)
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
// The path label holds the Gin route template (e.g. /api/v1/members/:id/email),
// NOT the raw URL, so membership ids never become label values.
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

	// HTTPErrorsTotal counts JSON error responses by route template and error kind,
	// e.g. rate(http_errors_total{kind="partial_email_sync"}[5m]).
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total error responses, by route template and error kind.",
		},
		[]string{"path", "kind"},
	)
)

// Membership reconciliation metrics.
//
// MembershipOperationsTotal is a CounterVec with labels {operation, outcome}. operation is
// one of add, change_email, update_profile, deactivate; outcome is "created",
// "reactivated", "ok", or the error kind returned to the caller.
//
// Example PromQL queries:
//   - Cross-tenant rejections per hour: increase(membership_operations_total{outcome="cross_tenant_conflict"}[1h])
//   - Reactivation share:               sum(rate(membership_operations_total{outcome="reactivated"}[1d])) / sum(rate(membership_operations_total{operation="add"}[1d]))
//
// IdentityRollbacksTotal counts compensating identity deletions by result
// ("deleted" or "failed"). Any "failed" sample means an orphaned identity that needs
// manual cleanup and is worth an alert.
//
// PartialEmailSyncsTotal counts email changes where the identity moved to the new
// address but the membership row was not updated.
var (
	MembershipOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_operations_total",
			Help: "Total membership operations, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	MembershipOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "membership_operation_duration_seconds",
			Help:    "Duration of membership operations including identity provider calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	IdentityRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_rollbacks_total",
			Help: "Total compensating identity deletions after a failed membership insert, by result.",
		},
		[]string{"result"},
	)

	PartialEmailSyncsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "membership_partial_email_syncs_total",
			Help: "Total email changes that updated the identity but not the membership row.",
		},
	)
)

// Side-effect metrics.
//
// NotificationsSentTotal has label {template} (invitation, reactivation) and is incremented
// once per email handed to the SMTP server. EventsPublishedTotal has labels {type, result}.
// EmailLockWaitDuration observes how long callers waited for the per-email advisory lock.
var (
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_notifications_sent_total",
			Help: "Total membership notification emails sent, by template.",
		},
		[]string{"template"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_events_published_total",
			Help: "Total membership lifecycle events published, by event type and result.",
		},
		[]string{"type", "result"},
	)

	EmailLockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "membership_email_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the per-email advisory lock.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// ObserveOperation records one membership operation with its outcome and duration.
func ObserveOperation(operation, outcome string, started time.Time) {
	MembershipOperationsTotal.WithLabelValues(operation, outcome).Inc()
	MembershipOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when the database becomes unreachable, which happens when the
// application shuts down and closes the pool.
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
