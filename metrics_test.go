package cabinet

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*MetricsCollector, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewMetricsCollectorWithRegistry(registry), registry
}

func TestNewMetricsCollectorWithRegistry(t *testing.T) {
	collector, registry := newTestMetrics(t)

	if collector.Registerer() != registry {
		t.Error("Expected collector to keep its registerer")
	}

	collector.RecordRequest("GET", "example.com/api", 200, 10*time.Millisecond)
	collector.RecordRefresh(RefreshResultSuccess, time.Millisecond)
	collector.RecordUnauthorizedReplay("GET", "example.com/api")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{
		"cabinet_requests_total",
		"cabinet_request_duration_seconds",
		"cabinet_token_refreshes_total",
		"cabinet_token_refresh_duration_seconds",
		"cabinet_unauthorized_replays_total",
	} {
		if !names[want] {
			t.Errorf("Expected metric %s to be registered", want)
		}
	}
}

func TestRecordRequest(t *testing.T) {
	collector, _ := newTestMetrics(t)

	collector.RecordRequest("GET", "example.com/api/me", 200, 5*time.Millisecond)
	collector.RecordRequest("GET", "example.com/api/me", 200, 5*time.Millisecond)
	collector.RecordRequest("GET", "example.com/api/me", 401, 5*time.Millisecond)

	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", "example.com/api/me")); got != 2 {
		t.Errorf("Expected 2 successful requests, got %v", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "401", "example.com/api/me")); got != 1 {
		t.Errorf("Expected 1 unauthorized request, got %v", got)
	}
}

func TestRecordRequestInFlight(t *testing.T) {
	collector, _ := newTestMetrics(t)

	collector.RecordRequestStart("POST", "e")
	collector.RecordRequestStart("POST", "e")
	collector.RecordRequestEnd("POST", "e")

	if got := testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("POST", "e")); got != 1 {
		t.Errorf("Expected 1 in flight, got %v", got)
	}
}

func TestRecordRefreshCounters(t *testing.T) {
	collector, _ := newTestMetrics(t)

	collector.RecordRefresh(RefreshResultSuccess, time.Millisecond)
	collector.RecordRefresh(RefreshResultFailure, time.Millisecond)
	collector.RecordRefresh(RefreshResultFailure, time.Millisecond)
	collector.RecordRefreshWaiter()
	collector.RecordRefreshWaiter()
	collector.RecordRefreshWaiter()
	collector.RecordRefreshRetry()
	collector.RecordSessionExpired()

	if got := testutil.ToFloat64(collector.refreshesTotal.WithLabelValues(RefreshResultFailure)); got != 2 {
		t.Errorf("Expected 2 failed refreshes, got %v", got)
	}
	if got := testutil.ToFloat64(collector.refreshWaiters); got != 3 {
		t.Errorf("Expected 3 waiters, got %v", got)
	}
	if got := testutil.ToFloat64(collector.refreshRetries); got != 1 {
		t.Errorf("Expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(collector.sessionsExpired); got != 1 {
		t.Errorf("Expected 1 expired session, got %v", got)
	}
}

func TestRecordCircuitBreakerState(t *testing.T) {
	collector, _ := newTestMetrics(t)

	collector.RecordCircuitBreakerState(StateOpen)
	if got := testutil.ToFloat64(collector.breakerState); got != 1 {
		t.Errorf("Expected state gauge 1, got %v", got)
	}
	collector.RecordCircuitBreakerState(StateHalfOpen)
	if got := testutil.ToFloat64(collector.breakerState); got != 2 {
		t.Errorf("Expected state gauge 2, got %v", got)
	}
}

func TestRecordError(t *testing.T) {
	collector, _ := newTestMetrics(t)

	collector.RecordError(ErrorTypeNetwork, "GET", "e")

	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues(ErrorTypeNetwork, "GET", "e")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func TestMetricsCollectorWithNil(t *testing.T) {
	var collector *MetricsCollector

	collector.RecordRequest("GET", "e", 200, time.Millisecond)
	collector.RecordRequestStart("GET", "e")
	collector.RecordRequestEnd("GET", "e")
	collector.RecordRefresh(RefreshResultSuccess, time.Millisecond)
	collector.RecordRefreshWaiter()
	collector.RecordRefreshRetry()
	collector.RecordCircuitBreakerState(StateOpen)
	collector.RecordUnauthorizedReplay("GET", "e")
	collector.RecordSessionExpired()
	collector.RecordError(ErrorTypeNetwork, "GET", "e")

	if collector.Registerer() != nil {
		t.Error("Expected nil registerer for nil collector")
	}
}
