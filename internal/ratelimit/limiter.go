// Package ratelimit provides the shared pacing primitives for the Upload
// Pipeline: a fixed-window call limiter and a stateful exponential
// backoff generator (spec §4.9).
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded is raised when a caller waits longer than
// limit_wait_max for a token (spec §4.7, §7). The Upload Pipeline treats
// it identically to an HTTP 429.
var ErrRateLimitExceeded = errors.New("ratelimit: exceeded wait budget")

// Limiter is a fixed-window rate limiter: at most MaxCalls may proceed in
// any trailing Window-second interval. It maintains a timestamp list,
// pruning on every check (spec §4.9).
//
// A token-bucket limiter (e.g. golang.org/x/time/rate) was considered and
// rejected for this role — see DESIGN.md: the spec's observable contract
// (TimeUntilNext, a sliding timestamp-list eviction) isn't expressible
// through a token bucket without re-deriving the same list internally.
type Limiter struct {
	mu       sync.Mutex
	window   time.Duration
	maxCalls int
	calls    []time.Time
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewLimiter creates a Limiter allowing maxCalls per window.
func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	return &Limiter{
		window:   window,
		maxCalls: maxCalls,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// prune must be called with mu held.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && l.calls[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = l.calls[i:]
	}
}

// CanProceed atomically decides whether a call may proceed right now. If
// so, it records the call and returns true.
func (l *Limiter) CanProceed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.calls) >= l.maxCalls {
		return false
	}
	l.calls = append(l.calls, now)
	return true
}

// TimeUntilNext returns the delay until the earliest call would be
// evicted from the window, freeing a slot. It is zero if a slot is
// already free.
func (l *Limiter) TimeUntilNext() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.calls) < l.maxCalls {
		return 0
	}
	earliest := l.calls[0]
	delay := earliest.Add(l.window).Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}

// Wait blocks until a token is available or maxWait elapses, whichever
// comes first. It returns ErrRateLimitExceeded if it could not acquire a
// token within maxWait (spec §4.7: limit_wait_max, default 5s).
func (l *Limiter) Wait(maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)
	for {
		if l.CanProceed() {
			return nil
		}
		delay := l.TimeUntilNext()
		if l.now().Add(delay).After(deadline) {
			return ErrRateLimitExceeded
		}
		if delay <= 0 {
			delay = time.Millisecond
		}
		l.sleep(delay)
	}
}
