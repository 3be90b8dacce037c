package cabinet

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Nhiaz/bedolaga-cabinet/internal/backoff"
)

// BackoffStrategy names the delay schedule between refresh attempts.
type BackoffStrategy string

const (
	ExponentialJitter  BackoffStrategy = "exponential"
	DecorrelatedJitter BackoffStrategy = "decorrelated"
	ConstantBackoff    BackoffStrategy = "constant"
)

// RetryPolicy decides whether a failed refresh exchange is attempted again.
// attempt is 0 for the first failure.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) (time.Duration, bool)
}

// DefaultRetryPolicy retries transient refresh failures (transport errors,
// 5xx, 429) and honours Retry-After. Rejections such as 400/401 are final.
type DefaultRetryPolicy struct {
	maxRetries int
	params     backoff.Params
	strategy   backoff.Strategy
}

// NewDefaultRetryPolicy creates an exponential-jitter policy.
func NewDefaultRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, initialBackoff, maxBackoff, multiplier, jitter, ExponentialJitter)
}

// NewDefaultRetryPolicyWithStrategy creates a policy with a specific backoff
// strategy. Unknown strategies fall back to exponential jitter.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	s, err := backoff.Parse(string(strategy))
	if err != nil {
		s = backoff.Exponential{}
	}
	return &DefaultRetryPolicy{
		maxRetries: maxRetries,
		params: backoff.Params{
			Initial:    initialBackoff,
			Max:        maxBackoff,
			Multiplier: multiplier,
			Jitter:     jitter,
		},
		strategy: s,
	}
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(err error, attempt int) (time.Duration, bool) {
	if err == nil || attempt >= p.maxRetries {
		return 0, false
	}

	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) || !refreshErr.Transient() {
		return 0, false
	}

	if refreshErr.RetryAfter > 0 {
		delay := refreshErr.RetryAfter
		if p.params.Max > 0 && delay > p.params.Max {
			delay = p.params.Max
		}
		return delay, true
	}
	return p.strategy.Delay(attempt, p.params), true
}

// MaxRetries returns the retry ceiling.
func (p *DefaultRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// NoRetry never retries.
type NoRetry struct{}

func (NoRetry) ShouldRetry(error, int) (time.Duration, bool) { return 0, false }

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
