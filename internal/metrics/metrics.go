// Package metrics exposes Prometheus instrumentation for the scheduler:
// reconciliation activity, delivery outcomes, lease reclaims, and the
// HTTP ingestion surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docwatch_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docwatch_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	reconciliationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docwatch_reconciliations_total",
			Help: "Total document reconciliations applied",
		},
	)

	alertsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docwatch_alerts_created_total",
			Help: "Alerts created by reconciliation",
		},
	)

	alertsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docwatch_alerts_cancelled_total",
			Help: "Alerts cancelled by reconciliation",
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docwatch_deliveries_total",
			Help: "Delivery attempts by outcome and channel",
		},
		[]string{"outcome", "channel"},
	)

	leaseReclaims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docwatch_lease_reclaims_total",
			Help: "Expired delivery leases reclaimed by the sweeper",
		},
	)

	alertsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docwatch_alerts_exhausted_total",
			Help: "Alerts that hit the delivery retry cap",
		},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docwatch_sweep_duration_seconds",
			Help:    "Duration of one delivery sweep",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)

	dueAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docwatch_due_alerts",
			Help: "Alerts selected as due by the last sweep",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docwatch_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"key"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordReconciliation records one applied reconciliation diff.
func RecordReconciliation(created, cancelled int) {
	reconciliationsTotal.Inc()
	alertsCreated.Add(float64(created))
	alertsCancelled.Add(float64(cancelled))
}

// RecordDelivery records the outcome of one delivery attempt.
func RecordDelivery(outcome, channel string) {
	deliveriesTotal.WithLabelValues(outcome, channel).Inc()
}

// RecordLeaseReclaim records a crashed delivery lease being taken over.
func RecordLeaseReclaim() {
	leaseReclaims.Inc()
}

// RecordAlertExhausted records an alert hitting the retry cap.
func RecordAlertExhausted() {
	alertsExhausted.Inc()
}

// ObserveSweep records one sweep pass.
func ObserveSweep(due int, duration time.Duration) {
	dueAlerts.Set(float64(due))
	sweepDuration.Observe(duration.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection.
func RecordRateLimitRejection(key string) {
	rateLimitRejections.WithLabelValues(key).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
