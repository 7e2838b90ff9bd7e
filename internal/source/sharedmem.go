package source

import "context"

// SharedMemoryAdapter is the real binding to the simulator's shared-memory
// buffers. spec.md §1 explicitly scopes the binding itself out (it is
// simulator-SDK and OS specific); this type documents the contract a
// concrete binding must satisfy, the same "thin live-peer implementation
// behind an interface" shape the teacher uses for
// simulation.SimulatorXPlane versus its mock. Open returns ErrUnavailable
// unless Bind is set; ReadPhysics, ReadScoring and IsPaused always return
// ErrUnavailable, with or without Bind.
type SharedMemoryAdapter struct {
	// Bind, when set, performs the shared-memory mapping for Open. Left
	// nil in this repository; a deployment provides it.
	Bind func(ctx context.Context, accessMode int, processHint, encoding string) (Handle, error)
}

func (s *SharedMemoryAdapter) Open(ctx context.Context, accessMode int, processHint, encoding string) (Handle, error) {
	if s.Bind == nil {
		return nil, ErrUnavailable
	}
	return s.Bind(ctx, accessMode, processHint, encoding)
}

func (s *SharedMemoryAdapter) ReadPhysics(Handle) (PhysicsView, error) {
	return PhysicsView{}, ErrUnavailable
}

func (s *SharedMemoryAdapter) ReadScoring(Handle) (ScoringView, error) {
	return ScoringView{}, ErrUnavailable
}

func (s *SharedMemoryAdapter) IsPaused(Handle) (bool, error) {
	return false, ErrUnavailable
}

func (s *SharedMemoryAdapter) Close(Handle) error {
	return nil
}
