// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// BatchesClosedTotal counts QC batches closed after their sample was drawn.
	BatchesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qc_batches_closed_total",
			Help: "Total number of QC batches closed for sampling",
		},
		[]string{"survey_id"},
	)
	// ResponsesSampledTotal counts responses selected into QC samples.
	ResponsesSampledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qc_responses_sampled_total",
			Help: "Total number of responses flagged as QC sample members",
		},
		[]string{"survey_id"},
	)
	// ReviewLeaseAcquisitions counts review-lease acquisition attempts by
	// outcome, including attempts that found nothing to lease.
	ReviewLeaseAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_lease_acquisitions_total",
			Help: "Total number of review lease acquisitions",
		},
		[]string{"result"}, // "granted", "expired_steal", "none_available"
	)
	// ReviewDecisionsTotal counts verdicts submitted.
	ReviewDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_decisions_total",
			Help: "Total number of review verdicts submitted",
		},
		[]string{"verdict"},
	)
	// DuplicatesFoundTotal counts responses reclassified as duplicates by a
	// reconciliation run.
	DuplicatesFoundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_responses_found_total",
			Help: "Total number of responses marked abandoned as duplicates",
		},
		[]string{"mode"},
	)
	// TelephonyCallsTotal counts outbound calls placed, by provider and result.
	TelephonyCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephony_calls_total",
			Help: "Total number of outbound calls placed",
		},
		[]string{"provider", "result"},
	)
	// TelephonyCallDuration records provider round-trip latency for makeCall.
	TelephonyCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephony_call_request_duration_seconds",
			Help:    "Telephony provider makeCall request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)
	// CircuitBreakerStatus tracks circuit breaker state per named breaker.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
	// OfflineSyncAttemptsTotal counts client-side sync attempts by outcome;
	// recorded server-side from the status the offline sync engine reports.
	OfflineSyncAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_sync_attempts_total",
			Help: "Total number of offline interview sync attempts observed",
		},
		[]string{"outcome"}, // "synced", "duplicate", "failed"
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(BatchesClosedTotal)
	prometheus.MustRegister(ResponsesSampledTotal)
	prometheus.MustRegister(ReviewLeaseAcquisitions)
	prometheus.MustRegister(ReviewDecisionsTotal)
	prometheus.MustRegister(DuplicatesFoundTotal)
	prometheus.MustRegister(TelephonyCallsTotal)
	prometheus.MustRegister(TelephonyCallDuration)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(OfflineSyncAttemptsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
