// Package observability exposes Prometheus metrics for the API and the
// import pipeline.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finly_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finly_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "finly_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)

	// ImportSessionsTotal counts import sessions by terminal outcome.
	ImportSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finly_import_sessions_total",
			Help: "Import sessions by outcome",
		},
		[]string{"outcome"},
	)

	// RowsClassifiedTotal counts classified rows by tier (rule vs ai).
	RowsClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finly_import_rows_classified_total",
			Help: "Statement rows classified, by classification tier",
		},
		[]string{"tier"},
	)

	// RowsResolvedTotal counts confirmed/skipped rows.
	RowsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finly_import_rows_resolved_total",
			Help: "Import rows resolved by user action",
		},
		[]string{"action"},
	)

	// AIBatchDuration tracks AI fallback batch latency.
	AIBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finly_import_ai_batch_duration_seconds",
			Help:    "AI fallback classification batch duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// AIBatchesTotal counts AI fallback batches by outcome.
	AIBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finly_import_ai_batches_total",
			Help: "AI fallback classification batches by outcome",
		},
		[]string{"outcome"},
	)
)

// MetricsMiddleware records request counts and latencies per route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ActiveRequests.Inc()
		defer ActiveRequests.Dec()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		routePattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}

		RequestDuration.WithLabelValues(r.Method, routePattern).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(r.Method, routePattern, strconv.Itoa(ww.Status())).Inc()
	})
}
