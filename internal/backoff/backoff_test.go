package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_ExponentialGrowth(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
}

func TestDelay_CappedAtMax(t *testing.T) {
	p := Policy{Initial: 1 * time.Second, Max: 5 * time.Second, Factor: 3}

	assert.Equal(t, 5*time.Second, p.Delay(10))
	assert.Equal(t, 5*time.Second, p.Delay(100))
}

func TestDelay_NonDecreasingAcrossAttempts(t *testing.T) {
	p := Policy{Initial: 250 * time.Millisecond, Max: 30 * time.Second, Factor: 1.5}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay shrank at attempt %d", attempt)
		assert.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
}

func TestDelay_JitterStaysInBand(t *testing.T) {
	p := Policy{
		Initial: 1 * time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  true,
		rnd:     rand.New(rand.NewSource(42)),
	}

	base := 4 * time.Second // attempt 3
	for i := 0; i < 100; i++ {
		d := p.Delay(3)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75))
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25))
	}
}

func TestDelay_NeverNegative(t *testing.T) {
	p := Policy{Initial: 1 * time.Nanosecond, Max: 1 * time.Nanosecond, Factor: 2, Jitter: true}

	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, p.Delay(1), time.Duration(0))
	}
}

func TestDelay_ZeroValuesUseDefaults(t *testing.T) {
	var p Policy

	assert.Equal(t, DefaultInitial, p.Delay(1))
	assert.Equal(t, 2*DefaultInitial, p.Delay(2))
	assert.Equal(t, DefaultMax, p.Delay(100))
}

func TestDelay_AttemptBelowOneClamped(t *testing.T) {
	p := Policy{Initial: 1 * time.Second, Max: 10 * time.Second, Factor: 2}

	assert.Equal(t, p.Delay(1), p.Delay(0))
	assert.Equal(t, p.Delay(1), p.Delay(-5))
}
