package backoff

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Params bounds a backoff schedule.
type Params struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Strategy computes the delay before retry number attempt (0-based).
type Strategy interface {
	Delay(attempt int, p Params) time.Duration
}

// Exponential grows the delay by Multiplier per attempt and adds up to Jitter
// of uniform noise, never exceeding Max.
type Exponential struct{}

func (Exponential) Delay(attempt int, p Params) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(p.Initial) * pow(p.Multiplier, attempt))
	if delay < 0 || delay > p.Max {
		delay = p.Max
	}

	if jitter := clampJitter(p.Jitter); jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > p.Max {
			return p.Max
		}
		delay += extra
	}
	return delay
}

// Decorrelated picks a delay uniformly between Initial and
// min(Max, Initial*3^attempt).
type Decorrelated struct{}

func (Decorrelated) Delay(attempt int, p Params) time.Duration {
	if attempt <= 0 {
		return p.Initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(p.Initial)
	upper := base * pow(3.0, attempt)
	if upper > float64(p.Max) || upper < 0 {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > p.Max {
		delay = p.Max
	}
	return delay
}

// Constant always waits Initial.
type Constant struct{}

func (Constant) Delay(_ int, p Params) time.Duration {
	return p.Initial
}

// Parse maps a configuration name to a Strategy. The empty string selects
// Exponential.
func Parse(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exponential":
		return Exponential{}, nil
	case "decorrelated":
		return Decorrelated{}, nil
	case "constant":
		return Constant{}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
