// Package backoff provides retry delay strategies for failed deliveries.
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed waits the same interval before every retry.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed-interval strategy.
func NewFixed(interval time.Duration) Fixed {
	return Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay linearly: min(Step * attempt, Max).
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

// NewLinear creates a linear strategy.
func NewLinear(step, maxDelay time.Duration) Linear {
	return Linear{Step: step, Max: maxDelay}
}

// Delay returns Step * attempt, capped at Max.
func (l Linear) Delay(attempt int) time.Duration {
	d := l.Step * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each retry: min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(base, maxDelay time.Duration) Exponential {
	return Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max. The cap is applied
// before converting back to a duration so large attempts cannot overflow.
func (e Exponential) Delay(attempt int) time.Duration {
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// FullJitter
// ──────────────────────────────────────────────────

// FullJitter draws a uniform delay in [0, min(Base * 2^(attempt-1), Max)].
// Randomizing the whole range keeps simultaneous retries from herding.
type FullJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewFullJitter creates an exponential strategy with full jitter.
func NewFullJitter(base, maxDelay time.Duration) FullJitter {
	return FullJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^(attempt-1), Max)].
func (j FullJitter) Delay(attempt int) time.Duration {
	ceil := float64(j.Base) * math.Pow(2, float64(attempt-1))
	if j.Max > 0 && ceil > float64(j.Max) {
		ceil = float64(j.Max)
	}
	return time.Duration(rand.Float64() * ceil) //nolint:gosec // non-crypto rand is fine for jitter
}

// Default is the strategy used when none is configured: full jitter with
// 1s base and 1m cap.
func Default() Strategy {
	return NewFullJitter(time.Second, time.Minute)
}

// At returns the absolute retry time for attempt n, measured from now.
func At(s Strategy, now time.Time, attempt int) time.Time {
	return now.Add(s.Delay(attempt))
}
