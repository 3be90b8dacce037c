package cabinet

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes used as the result label.
const (
	RefreshResultSuccess        = "success"
	RefreshResultFailure        = "failure"
	RefreshResultNoRefreshToken = "no_refresh_token"
	RefreshResultCircuitOpen    = "circuit_open"
	RefreshResultStoreError     = "store_error"
)

// MetricsCollector provides Prometheus metrics for the request pipeline and
// token refresh coordination. It is safe for concurrent use; a nil collector
// records nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	refreshesTotal  *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	refreshWaiters  prometheus.Counter
	refreshRetries  prometheus.Counter
	breakerState    prometheus.Gauge
	unauthorized    *prometheus.CounterVec
	sessionsExpired prometheus.Counter
	errorsTotal     *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cabinet_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cabinet_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds, including refresh and replay",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cabinet_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		refreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cabinet_token_refreshes_total",
				Help: "Token refresh executions by result",
			},
			[]string{"result"},
		),
		refreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cabinet_token_refresh_duration_seconds",
				Help:    "Duration of token refresh executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		refreshWaiters: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cabinet_token_refresh_waiters_total",
				Help: "Callers that joined an in-flight refresh instead of starting one",
			},
		),
		refreshRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cabinet_token_refresh_retries_total",
				Help: "Retried refresh exchanges after transient failures",
			},
		),
		breakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cabinet_refresh_circuit_state",
				Help: "Refresh circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		unauthorized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cabinet_unauthorized_replays_total",
				Help: "Requests replayed after a 401 response",
			},
			[]string{"method", "endpoint"},
		),
		sessionsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cabinet_sessions_expired_total",
				Help: "Sessions cleared after a failed refresh",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cabinet_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
		registerer: registry,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRefresh counts one refresh execution.
func (mc *MetricsCollector) RecordRefresh(result string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.refreshesTotal.WithLabelValues(result).Inc()
	mc.refreshDuration.Observe(duration.Seconds())
}

// RecordRefreshWaiter counts a caller that shared another caller's refresh.
func (mc *MetricsCollector) RecordRefreshWaiter() {
	if mc == nil {
		return
	}
	mc.refreshWaiters.Inc()
}

// RecordRefreshRetry counts a retried refresh exchange.
func (mc *MetricsCollector) RecordRefreshRetry() {
	if mc == nil {
		return
	}
	mc.refreshRetries.Inc()
}

// RecordCircuitBreakerState sets gauge to breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(state CircuitState) {
	if mc == nil {
		return
	}
	mc.breakerState.Set(float64(state))
}

// RecordUnauthorizedReplay counts a request replayed after 401.
func (mc *MetricsCollector) RecordUnauthorizedReplay(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.unauthorized.WithLabelValues(method, endpoint).Inc()
}

// RecordSessionExpired counts a session cleared after refresh failure.
func (mc *MetricsCollector) RecordSessionExpired() {
	if mc == nil {
		return
	}
	mc.sessionsExpired.Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// Registerer exposes the registerer the collectors were registered with.
func (mc *MetricsCollector) Registerer() prometheus.Registerer {
	if mc == nil {
		return nil
	}
	return mc.registerer
}
