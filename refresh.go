package cabinet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nhiaz/bedolaga-cabinet/internal/backoff"
	"github.com/Nhiaz/bedolaga-cabinet/internal/singleflight"
)

const refreshKey = "access_token"

// CoordinatorConfig wires a Coordinator. Store and Refresher are required.
type CoordinatorConfig struct {
	Store            TokenStore
	Refresher        Refresher
	RetryPolicy      RetryPolicy
	CircuitBreaker   *CircuitBreaker
	Timeout          time.Duration
	OnSessionExpired SessionExpiredFunc
	Metrics          *MetricsCollector
	Logger           Logger
}

// Coordinator guarantees at most one refresh exchange is in flight. Callers
// arriving while it runs receive the same token or the same error.
type Coordinator struct {
	store     TokenStore
	refresher Refresher
	group     *singleflight.Group[string]
	retry     RetryPolicy
	breaker   *CircuitBreaker
	timeout   time.Duration
	onExpired SessionExpiredFunc
	metrics   *MetricsCollector
	logger    Logger
}

// NewCoordinator applies defaults: two retries with 200ms..2s backoff, a
// breaker opening after five failures, and a 15s refresh timeout.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	rc := &Coordinator{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		group:     singleflight.New[string](),
		retry:     cfg.RetryPolicy,
		breaker:   cfg.CircuitBreaker,
		timeout:   cfg.Timeout,
		onExpired: cfg.OnSessionExpired,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if rc.retry == nil {
		rc.retry = NewDefaultRetryPolicy(2, 200*time.Millisecond, 2*time.Second, 2.0, 0.1)
	}
	if rc.breaker == nil {
		rc.breaker = NewCircuitBreaker(CircuitBreakerConfig{})
	}
	if rc.timeout <= 0 {
		rc.timeout = 15 * time.Second
	}
	if rc.logger == nil {
		rc.logger = nopLogger{}
	}
	return rc
}

// Refresh returns a fresh access token. Only the first concurrent caller runs
// the exchange; the rest wait for its outcome. A caller whose ctx ends stops
// waiting without cancelling the shared exchange.
func (rc *Coordinator) Refresh(ctx context.Context) (string, error) {
	detached := context.WithoutCancel(ctx)
	token, shared, err := rc.group.Do(ctx, refreshKey, func() (string, error) {
		return rc.refresh(detached)
	})
	if shared && (err == nil || err != ctx.Err()) {
		rc.metrics.RecordRefreshWaiter()
		rc.logger.Debug("Joined in-flight token refresh", "requestID", RequestIDFromContext(ctx))
	}
	return token, err
}

// InFlight reports whether a refresh exchange is currently running.
func (rc *Coordinator) InFlight() bool {
	return rc.group.InFlight(refreshKey)
}

// Waiters reports how many callers joined the running refresh exchange.
func (rc *Coordinator) Waiters() int {
	return rc.group.Waiters(refreshKey)
}

// CircuitBreaker exposes the breaker guarding the refresh endpoint.
func (rc *Coordinator) CircuitBreaker() *CircuitBreaker {
	return rc.breaker
}

func (rc *Coordinator) refresh(parent context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(parent, rc.timeout)
	defer cancel()
	start := time.Now()

	refreshToken, err := rc.store.RefreshToken(ctx)
	if err != nil {
		rc.metrics.RecordRefresh(RefreshResultStoreError, time.Since(start))
		rc.logger.Error("Failed to read refresh token", "error", err.Error())
		return "", err
	}
	if refreshToken == "" {
		rc.metrics.RecordRefresh(RefreshResultNoRefreshToken, time.Since(start))
		rc.logger.Debug("No refresh token stored, skipping refresh")
		return "", ErrNoRefreshToken
	}

	if !rc.breaker.Allow() {
		rc.metrics.RecordRefresh(RefreshResultCircuitOpen, time.Since(start))
		rc.logger.Warn("Refresh circuit open, failing fast", "state", rc.breaker.State().String())
		return "", ErrRefreshCircuitOpen
	}

	rc.logger.Info("Refreshing access token")
	pair, err := rc.exchange(ctx, refreshToken)
	if errors.Is(err, ErrRefreshNotConfigured) {
		rc.metrics.RecordRefresh(RefreshResultFailure, time.Since(start))
		rc.logger.Error("Refresh endpoint not configured, keeping session", "error", err.Error())
		return "", err
	}
	if err != nil {
		rc.breaker.RecordFailure()
		rc.metrics.RecordCircuitBreakerState(rc.breaker.State())
		rc.metrics.RecordRefresh(RefreshResultFailure, time.Since(start))
		rc.expire(parent, err)
		return "", err
	}
	rc.breaker.RecordSuccess()
	rc.metrics.RecordCircuitBreakerState(rc.breaker.State())

	if err := rc.store.SetAccessToken(ctx, pair.AccessToken); err != nil {
		rc.logger.Error("Failed to persist refreshed access token", "error", err.Error())
	}
	if pair.RefreshToken != "" {
		if err := rc.store.SetRefreshToken(ctx, pair.RefreshToken); err != nil {
			rc.logger.Error("Failed to persist rotated refresh token", "error", err.Error())
		}
	}

	rc.metrics.RecordRefresh(RefreshResultSuccess, time.Since(start))
	fields := []interface{}{"duration", time.Since(start), "rotated", pair.RefreshToken != "", "waiters", rc.Waiters()}
	if !pair.Expiry.IsZero() {
		fields = append(fields, "expiresAt", pair.Expiry)
	}
	rc.logger.Info("Access token refreshed", fields...)
	return pair.AccessToken, nil
}

func (rc *Coordinator) exchange(ctx context.Context, refreshToken string) (*TokenPair, error) {
	for attempt := 0; ; attempt++ {
		pair, err := rc.refresher.Refresh(ctx, refreshToken)
		if err == nil && (pair == nil || pair.AccessToken == "") {
			err = &RefreshError{Cause: errors.New("refresher returned no access token")}
		}
		if err == nil {
			return pair, nil
		}
		if errors.Is(err, ErrRefreshNotConfigured) {
			return nil, err
		}

		if !errors.Is(err, ErrRefreshFailed) {
			err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}

		delay, retry := rc.retry.ShouldRetry(err, attempt)
		if !retry {
			return nil, err
		}
		rc.metrics.RecordRefreshRetry()
		rc.logger.Warn("Retrying token refresh", "attempt", attempt+1, "backoff", delay, "error", err.Error())
		if waitErr := backoff.Wait(ctx, delay); waitErr != nil {
			return nil, err
		}
	}
}

// expire clears the session and notifies the owner callback. It runs once per
// failed exchange, never per waiter.
func (rc *Coordinator) expire(ctx context.Context, cause error) {
	rc.logger.Error("Token refresh failed, clearing session", "error", cause.Error())
	if err := rc.store.ClearTokens(ctx); err != nil {
		rc.logger.Error("Failed to clear tokens", "error", err.Error())
	}
	rc.metrics.RecordSessionExpired()
	if rc.onExpired != nil {
		rc.onExpired(ctx, cause)
	}
}
