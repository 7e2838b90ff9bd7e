package ratelimit

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is a stateful exponential backoff generator with optional
// jitter (spec §4.7: initial 1s, multiplier 2, cap 30s, jitter 50-100%).
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool

	attempt int
	rnd     *rand.Rand
}

// NewBackoff creates a Backoff with the given parameters. jitter, when
// true, scales each nominal delay by a uniform factor in [0.5, 1.0).
func NewBackoff(initial, max time.Duration, multiplier float64, jitter bool) *Backoff {
	return &Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: multiplier,
		Jitter:     jitter,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextDelay returns the delay to wait before the next attempt and
// advances internal state. The nominal (pre-jitter) delay is
// min(Max, Initial * Multiplier^attempt).
func (b *Backoff) NextDelay() time.Duration {
	nominal := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempt))
	if nominal > float64(b.Max) {
		nominal = float64(b.Max)
	}
	b.attempt++

	if !b.Jitter {
		return time.Duration(nominal)
	}
	factor := 0.5 + b.rnd.Float64()*0.5 // [0.5, 1.0)
	return time.Duration(nominal * factor)
}

// Reset returns the generator to its initial state after a success
// (spec §4.9).
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of delays issued since creation or the last
// Reset, for diagnostics/testing.
func (b *Backoff) Attempt() int {
	return b.attempt
}
