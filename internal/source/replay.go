package source

import (
	"context"
	"sync"
)

// ReplayAdapter is a deterministic, in-memory Adapter used by tests and by
// the CLI's --replay flag for smoke-testing without a running simulator.
// It is the Herbie analogue of the teacher's simulation.SimulatorMock: a
// fixed, scripted sequence of frames rather than a live peer connection.
//
// Physics and Scoring frames are produced by caller-supplied functions of
// the number of times each has been read, so scenarios (lap boundaries,
// pit windows, data gaps, pauses) can be scripted precisely — see
// internal/sampler and internal/lap tests for examples.
type ReplayAdapter struct {
	mu sync.Mutex

	NextPhysics func(call int) (PhysicsView, bool)
	NextScoring func(call int) (ScoringView, bool)
	Paused      func() bool

	physicsCalls int
	scoringCalls int
	open         bool
}

type replayHandle struct{}

// Open always succeeds for ReplayAdapter; a scenario's missing frames are
// expressed through NextPhysics/NextScoring returning ok=false, which the
// Read methods report as ErrStale.
func (r *ReplayAdapter) Open(_ context.Context, _ int, _, _ string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	return replayHandle{}, nil
}

func (r *ReplayAdapter) ReadPhysics(_ Handle) (PhysicsView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return PhysicsView{}, ErrUnavailable
	}
	if r.NextPhysics == nil {
		return PhysicsView{}, ErrStale
	}
	view, ok := r.NextPhysics(r.physicsCalls)
	r.physicsCalls++
	if !ok {
		return PhysicsView{}, ErrStale
	}
	return view, nil
}

func (r *ReplayAdapter) ReadScoring(_ Handle) (ScoringView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return ScoringView{}, ErrUnavailable
	}
	if r.NextScoring == nil {
		return ScoringView{}, ErrStale
	}
	view, ok := r.NextScoring(r.scoringCalls)
	r.scoringCalls++
	if !ok {
		return ScoringView{}, ErrStale
	}
	return view, nil
}

func (r *ReplayAdapter) IsPaused(_ Handle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Paused == nil {
		return false, nil
	}
	return r.Paused(), nil
}

func (r *ReplayAdapter) Close(_ Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}
