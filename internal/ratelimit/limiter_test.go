package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_CanProceedUpToMax(t *testing.T) {
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(3, time.Minute)
	l.now = func() time.Time { return fake }

	for i := 0; i < 3; i++ {
		if !l.CanProceed() {
			t.Fatalf("call %d should have been allowed", i)
		}
	}
	if l.CanProceed() {
		t.Fatal("4th call within the window should be denied")
	}
}

func TestLimiter_WindowEviction(t *testing.T) {
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(1, time.Minute)
	l.now = func() time.Time { return fake }

	if !l.CanProceed() {
		t.Fatal("first call should be allowed")
	}
	if l.CanProceed() {
		t.Fatal("second call before window elapses should be denied")
	}

	fake = fake.Add(time.Minute + time.Second)
	if !l.CanProceed() {
		t.Fatal("call after window eviction should be allowed")
	}
}

// TestLimiter_SlidingWindowBound verifies property 9 (spec §8.9): across
// any 60s sliding window, attempts never exceed maxCalls.
func TestLimiter_SlidingWindowBound(t *testing.T) {
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const maxCalls = 5
	l := NewLimiter(maxCalls, time.Minute)
	l.now = func() time.Time { return fake }

	var allowedAt []time.Time
	for i := 0; i < 40; i++ {
		if l.CanProceed() {
			allowedAt = append(allowedAt, fake)
		}
		fake = fake.Add(3 * time.Second)
	}

	// For every allowed call, count how many other allowed calls fall
	// within the preceding 60s window; it must never exceed maxCalls.
	for i, t0 := range allowedAt {
		count := 0
		for _, t1 := range allowedAt {
			if !t1.Before(t0.Add(-time.Minute)) && !t1.After(t0) {
				count++
			}
		}
		if count > maxCalls {
			t.Fatalf("call %d: %d attempts within trailing 60s window exceeds max %d", i, count, maxCalls)
		}
	}
}

func TestLimiter_TimeUntilNext(t *testing.T) {
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(1, time.Minute)
	l.now = func() time.Time { return fake }
	l.CanProceed()

	d := l.TimeUntilNext()
	if d <= 0 || d > time.Minute {
		t.Fatalf("expected TimeUntilNext in (0, 60s], got %v", d)
	}
}

func TestLimiter_WaitExceedsBudget(t *testing.T) {
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(1, time.Minute)
	l.now = func() time.Time { return fake }
	var slept time.Duration
	l.sleep = func(d time.Duration) {
		slept += d
		fake = fake.Add(d)
	}

	if err := l.Wait(5 * time.Second); err != nil {
		t.Fatalf("first wait should succeed immediately: %v", err)
	}
	if err := l.Wait(time.Second); err != ErrRateLimitExceeded {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
}
