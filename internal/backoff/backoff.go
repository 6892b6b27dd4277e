// Package backoff computes reconnection delays for the connection pool.
// Delays grow exponentially per attempt, capped at a maximum, with optional
// symmetric jitter to avoid synchronized retry storms across connections.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Default policy values, used when a field is left zero.
const (
	DefaultInitial = 1 * time.Second
	DefaultMax     = 30 * time.Second
	DefaultFactor  = 2.0

	// jitterFraction is the symmetric perturbation applied when Jitter is on.
	jitterFraction = 0.25
)

// Policy describes the backoff schedule for reconnection attempts.
type Policy struct {
	Initial time.Duration // delay for the first attempt
	Max     time.Duration // cap on the computed delay
	Factor  float64       // multiplier applied per attempt
	Jitter  bool          // perturb the delay by ±25%

	// rnd allows tests to pin the jitter source. Nil uses the global source.
	rnd *rand.Rand
}

// Delay returns the wait before the given reconnection attempt.
// Attempts are 1-based: Delay(1) returns Initial. The result never
// exceeds Max (before jitter) and is never negative.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	initial := p.Initial
	if initial <= 0 {
		initial = DefaultInitial
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMax
	}
	factor := p.Factor
	if factor <= 0 {
		factor = DefaultFactor
	}

	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if d > float64(max) {
		d = float64(max)
	}

	if p.Jitter {
		d += d * jitterFraction * (2*p.random() - 1)
	}

	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (p Policy) random() float64 {
	if p.rnd != nil {
		return p.rnd.Float64()
	}
	return rand.Float64()
}
