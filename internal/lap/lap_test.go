package lap

import (
	"context"
	"testing"
	"time"

	"github.com/PossumXI/Asgard/Herbie/internal/model"
)

func runManager(t *testing.T, m *Manager, fn func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	fn()
	cancel()
	<-done
}

// TestLap_BoundaryRotationSealsAndOpens verifies property 1 (spec §8.1):
// every sample belongs to exactly one lap bounded by its start/end.
func TestLap_BoundaryRotationSealsAndOpens(t *testing.T) {
	m := New(nil, time.Second)
	m.ConfirmSession()

	base := time.Now()
	runManager(t, m, func() {
		for i := 0; i < 5; i++ {
			s := model.PhysicsSample{ElapsedTime: float64(i), WallClock: base.Add(time.Duration(i) * time.Second)}
			m.PushPhysics(s, 1, false)
		}
		s := model.PhysicsSample{ElapsedTime: 5, WallClock: base.Add(5 * time.Second)}
		m.PushPhysics(s, 2, false)
		time.Sleep(20 * time.Millisecond)
	})

	closedLap := <-m.Closed()
	if closedLap.Number != 1 {
		t.Fatalf("expected lap 1 to be sealed first, got %d", closedLap.Number)
	}
	if len(closedLap.Physics) != 5 {
		t.Fatalf("expected 5 samples on sealed lap 1, got %d", len(closedLap.Physics))
	}
	for i, p := range closedLap.Physics {
		if p.ElapsedTime < closedLap.StartElapsed || p.ElapsedTime > closedLap.EndElapsed {
			t.Fatalf("sample %d elapsed %v outside [%v,%v]", i, p.ElapsedTime, closedLap.StartElapsed, closedLap.EndElapsed)
		}
	}
}

// TestLap_SamplesMonotoneWithinLap verifies property 2 (spec §8.2).
func TestLap_SamplesMonotoneWithinLap(t *testing.T) {
	m := New(nil, time.Second)
	m.ConfirmSession()

	runManager(t, m, func() {
		for i := 0; i < 10; i++ {
			m.PushPhysics(model.PhysicsSample{ElapsedTime: float64(i) * 0.5}, 1, false)
		}
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 6}, 2, false)
		time.Sleep(20 * time.Millisecond)
	})

	closedLap := <-m.Closed()
	for i := 1; i < len(closedLap.Physics); i++ {
		if closedLap.Physics[i].ElapsedTime < closedLap.Physics[i-1].ElapsedTime {
			t.Fatalf("non-monotone elapsed time at index %d", i)
		}
	}
}

func TestLap_PitExclusionDropsSamples(t *testing.T) {
	m := New(nil, time.Second)
	m.ConfirmSession()

	runManager(t, m, func() {
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 0}, 1, false)
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 1}, 1, true) // in pits, excluded
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 2}, 1, true)
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 3}, 1, false)
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 4}, 2, false)
		time.Sleep(20 * time.Millisecond)
	})

	closedLap := <-m.Closed()
	if len(closedLap.Physics) != 2 {
		t.Fatalf("expected 2 non-pit samples, got %d", len(closedLap.Physics))
	}
}

func TestLap_SessionGatesHandoff(t *testing.T) {
	m := New(nil, time.Second)

	runManager(t, m, func() {
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 0}, 1, false)
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 1}, 2, false)
		time.Sleep(20 * time.Millisecond)

		select {
		case <-m.Closed():
			t.Fatal("closed lap must not be handed off before session is confirmed")
		default:
		}

		m.ConfirmSession()
	})

	select {
	case l := <-m.Closed():
		if l.Number != 1 {
			t.Fatalf("expected pending lap 1 released after ConfirmSession, got %d", l.Number)
		}
	case <-time.After(time.Second):
		t.Fatal("expected pending lap released after ConfirmSession")
	}
}

func TestLap_OnNewLapCalledOnRotation(t *testing.T) {
	m := New(nil, time.Second)
	m.ConfirmSession()

	var seen []int
	m.OnNewLap = func(n int, _ time.Time) { seen = append(seen, n) }

	runManager(t, m, func() {
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 0}, 1, false)
		m.PushPhysics(model.PhysicsSample{ElapsedTime: 1}, 2, false)
		time.Sleep(20 * time.Millisecond)
	})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected OnNewLap(1), OnNewLap(2), got %v", seen)
	}
}

func TestLap_ShutdownSealsOpenLap(t *testing.T) {
	m := New(nil, time.Second)
	m.ConfirmSession()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	m.PushPhysics(model.PhysicsSample{ElapsedTime: 0}, 1, false)
	m.PushPhysics(model.PhysicsSample{ElapsedTime: 10}, 1, false)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	select {
	case l := <-m.Closed():
		if l.State != model.LapClosed {
			t.Fatalf("expected sealed lap to be Closed, got %v", l.State)
		}
	default:
		t.Fatal("expected the Open lap to be sealed and handed off on shutdown")
	}
}
