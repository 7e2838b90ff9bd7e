package source

import "testing"

func TestReplayAdapter_ReadPhysicsSequence(t *testing.T) {
	adapter := &ReplayAdapter{
		NextPhysics: func(call int) (PhysicsView, bool) {
			if call >= 3 {
				return PhysicsView{}, false
			}
			return PhysicsView{ElapsedTime: float64(call) * 0.011}, true
		},
	}
	h, err := adapter.Open(nil, 0, "", "utf-8")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	for i := 0; i < 3; i++ {
		v, err := adapter.ReadPhysics(h)
		if err != nil {
			t.Fatalf("unexpected read error at %d: %v", i, err)
		}
		if v.ElapsedTime != float64(i)*0.011 {
			t.Fatalf("frame %d: expected elapsed %v, got %v", i, float64(i)*0.011, v.ElapsedTime)
		}
	}

	if _, err := adapter.ReadPhysics(h); err != ErrStale {
		t.Fatalf("expected ErrStale after exhaustion, got %v", err)
	}
}

func TestReplayAdapter_UnopenedReturnsUnavailable(t *testing.T) {
	adapter := &ReplayAdapter{}
	if _, err := adapter.ReadPhysics(replayHandle{}); err != ErrUnavailable {
		t.Fatalf("expected ErrUnavailable before Open, got %v", err)
	}
}

func TestReplayAdapter_Paused(t *testing.T) {
	adapter := &ReplayAdapter{Paused: func() bool { return true }}
	h, _ := adapter.Open(nil, 0, "", "utf-8")
	paused, err := adapter.IsPaused(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !paused {
		t.Fatal("expected IsPaused to report true")
	}
}
