// Package backoff computes how long a failed job waits in the timer
// collection before it becomes due again. All strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Attempt derives the 1-indexed retry attempt from a job's retry budget:
// the configured initial budget and the retries left after the failure
// was charged. Jobs requeued from the dead-letter collection with a larger
// budget than the default still count from 1.
func Attempt(initial, remaining int) int {
	n := initial - remaining
	if n < 1 {
		return 1
	}
	return n
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(float64(e.Initial)*math.Pow(2, float64(attempt-1)), e.Max)
}

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := capped(float64(e.Initial)*math.Pow(2, float64(attempt-1)), e.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func capped(d float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// Strategy names accepted by Parse.
const (
	NameConstant    = "constant"
	NameLinear      = "linear"
	NameExponential = "exponential"
	NameJitter      = "jitter"
)

// Parse builds a strategy from its configured name. An empty name selects
// the constant strategy, which waits exactly initial between attempts.
func Parse(name string, initial, maxDelay time.Duration) (Strategy, error) {
	switch name {
	case "", NameConstant:
		return NewConstant(initial), nil
	case NameLinear:
		return NewLinear(initial, maxDelay), nil
	case NameExponential:
		return NewExponential(initial, maxDelay), nil
	case NameJitter:
		return NewExponentialWithJitter(initial, maxDelay), nil
	}
	return nil, fmt.Errorf("backoff: unknown strategy %q", name)
}

// DefaultStrategy returns the default retry policy: every failed attempt
// waits retryWait.
func DefaultStrategy(retryWait time.Duration) Strategy {
	return NewConstant(retryWait)
}
