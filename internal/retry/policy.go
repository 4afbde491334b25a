// Package retry computes backoff delays and give-up decisions for failed
// operation attempts. Everything here is pure; nothing is persisted.
package retry

import (
	"fmt"
	"math/rand"
	"time"
)

// Defaults mirror the engine configuration defaults.
const (
	DefaultBase        = time.Second
	DefaultCap         = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Policy is capped exponential backoff: NextDelay(n) = min(Base·2ⁿ, Cap).
//
// Jitter is an optional fraction in [0, 1]. When positive, each delay is
// reduced by a random amount of up to Jitter·delay. Zero (the default)
// keeps delays deterministic.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	Jitter      float64

	// random returns a value in [0, 1). Nil uses math/rand.
	random func() float64
}

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
}

// Default returns the reference policy: 1s base, 30s cap, 3 attempts, no jitter.
func Default() Policy {
	return Policy{Base: DefaultBase, Cap: DefaultCap, MaxAttempts: DefaultMaxAttempts}
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("retry: base delay must be positive, got %s", p.Base)
	}
	if p.Cap < p.Base {
		return fmt.Errorf("retry: max delay %s is below base delay %s", p.Cap, p.Base)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("retry: jitter must be within [0, 1], got %g", p.Jitter)
	}
	return nil
}

// WithRandom returns a copy of the policy that draws jitter from fn.
func (p Policy) WithRandom(fn func() float64) Policy {
	p.random = fn
	return p
}

// NextDelay returns min(Base·2ⁿ, Cap) for n ≥ 0, minus jitter if enabled.
// Safe for arbitrarily large n.
func (p Policy) NextDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.Base
	for i := 0; i < n && d < p.Cap; i++ {
		// Doubling past Cap/2 would reach or exceed the cap anyway.
		if d > p.Cap/2 {
			d = p.Cap
			break
		}
		d *= 2
	}
	if d > p.Cap {
		d = p.Cap
	}

	if p.Jitter > 0 && d > 0 {
		r := p.random
		if r == nil {
			r = rand.Float64
		}
		d -= time.Duration(float64(d) * p.Jitter * r())
	}
	return d
}

// GiveUp reports whether attemptCount failed attempts exhaust the budget.
func (p Policy) GiveUp(attemptCount int) bool {
	return attemptCount >= p.MaxAttempts
}

// Decide returns the decision after attemptCount failed attempts.
// The delay before attempt k+1 is NextDelay(k-1): Base after the first
// failure, 2·Base after the second, and so on.
func (p Policy) Decide(attemptCount int) Decision {
	if p.GiveUp(attemptCount) {
		return Decision{ShouldRetry: false}
	}
	return Decision{ShouldRetry: true, Delay: p.NextDelay(attemptCount - 1)}
}
