package cabinet

import (
	"sync/atomic"
	"time"
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitState represents the state of the circuit breaker
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops refresh calls after repeated rejections so a dead
// auth backend is not hammered by every request.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64
	failures    int64
	lastFailure int64
	successes   int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}

	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
	}
}

// Allow checks if the request should be allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() bool {
	now := time.Now().UnixNano()
	state := CircuitState(atomic.LoadInt64(&cb.state))

	switch state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= int64(cb.config.RecoveryTimeout) {
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				atomic.StoreInt64(&cb.successes, 0)
			}
			return true
		}
		return false
	default:
		return false
	}
}

// RecordFailure records a failure in the circuit breaker
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, time.Now().UnixNano())

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		if atomic.AddInt64(&cb.failures, 1) >= int64(cb.config.FailureThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateOpen))
		}
	case StateHalfOpen:
		// a failed probe reopens immediately
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.state, int64(StateOpen))
		atomic.StoreInt64(&cb.successes, 0)
	}
}

// RecordSuccess records a success in the circuit breaker
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		atomic.StoreInt64(&cb.failures, 0)
	case StateHalfOpen:
		if atomic.AddInt64(&cb.successes, 1) >= int64(cb.config.SuccessThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateClosed))
			atomic.StoreInt64(&cb.failures, 0)
			atomic.StoreInt64(&cb.successes, 0)
		}
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}
