// Package source defines the Source Adapter contract: an opaque accessor
// to the simulator's physics and scoring shared-memory buffers (spec
// §4.1). The binding itself (mapping a process's shared memory, decoding
// its wire layout) is out of scope; this package specifies the interface
// samplers program against and a deterministic in-memory adapter used
// for tests and local replay.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the simulator is not running.
var ErrUnavailable = errors.New("source: simulator unavailable")

// ErrStale is returned when the frame counter has not advanced for
// longer than the configured stale window.
var ErrStale = errors.New("source: frame stale")

// PhysicsView is a read-only borrow of the current physics frame, valid
// only until the next Read call (spec §4.1).
type PhysicsView struct {
	ElapsedTime float64

	PositionX, PositionY, PositionZ float64
	VelocityX, VelocityY, VelocityZ float64
	SpeedKMH                        float64

	Throttle, Brake, Steering float64
	Gear                      int
	RPM                       float64
	FuelKG                    float64

	BrakeTempC   [4]float64
	TyreTempC    [4]float64
	TyrePressKPa [4]float64
	SuspDeflect  [4]float64

	DamageFront, DamageRear, DamageLeft, DamageRight float64

	InPits bool

	LapNumber int
}

// ScoringView is a read-only borrow of the current scoring frame, valid
// only until the next Read call (spec §4.1).
type ScoringView struct {
	ElapsedTime float64

	LapNumber   int
	SectorIndex int
	LastLapTime float64
	Position    int

	BestSector1, BestSector2, BestSector3 float64
	CurrentSector                        float64

	InPits bool
	Flag   string
}

// Handle identifies an open source connection. Its internal shape is
// adapter-specific; samplers never inspect it.
type Handle interface{}

// Adapter is the opaque accessor samplers and the lifecycle manager
// program against (spec §4.1). All access to a given Handle must be
// confined to a single goroutine (spec §5).
type Adapter interface {
	// Open establishes a connection to the simulator. accessMode and
	// processHint mirror spec §6's source.access_mode/process_id; encoding
	// is source.char_encoding.
	Open(ctx context.Context, accessMode int, processHint, encoding string) (Handle, error)

	// ReadPhysics returns the current physics frame. It returns
	// ErrUnavailable or ErrStale on failure; callers must not retain the
	// returned view past the next call.
	ReadPhysics(h Handle) (PhysicsView, error)

	// ReadScoring returns the current scoring frame, with the same
	// validity contract as ReadPhysics.
	ReadScoring(h Handle) (ScoringView, error)

	// IsPaused reports whether the simulator is not currently producing
	// updates.
	IsPaused(h Handle) (bool, error)

	// Close releases the handle.
	Close(h Handle) error
}

// StaleWindow is the default duration ReadPhysics/ReadScoring may go
// without the frame counter advancing before ErrStale is returned by a
// real binding.
const StaleWindow = 2 * time.Second
