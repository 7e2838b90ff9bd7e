// Package sampler runs the two fixed-cadence readers that turn Source
// Adapter frames into model records: the Physics Sampler (tick-driven,
// spec §4.2) and the Scoring Sampler (change-triggered, spec §4.3). Both
// are single goroutines confined to the Source Adapter handle they were
// opened with (spec §5).
package sampler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Herbie/internal/model"
	"github.com/PossumXI/Asgard/Herbie/internal/source"
)

// ErrSourceUnavailable is surfaced to the supervisor once read_physics
// fails continuously for longer than the configured failure window
// (spec §4.2, §7 SourceUnavailable).
var ErrSourceUnavailable = errors.New("sampler: source unavailable")

// Physics runs the Physics Sampler: a time.Ticker-driven goroutine that
// reads one PhysicsView per tick and, when a lap is open, emits one
// PhysicsSample on Out. Grounded on the teacher's
// XPlaneSimulator.RunScenario ticker loop (simulation/xplane.go): one
// ticker, one select over ctx.Done()/ticker.C, no retry. The send on Out
// waits until the channel has room or ctx is cancelled.
type Physics struct {
	Adapter       source.Adapter
	Handle        source.Handle
	Period        time.Duration
	FailureWindow time.Duration
	Out           chan<- model.PhysicsSample
	Log           *logrus.Entry

	// LapOpen reports whether the agent is currently recording; the
	// sampler drops ticks silently otherwise (spec §4.2). The lap number
	// itself comes from the PhysicsView, not from this gate.
	LapOpen func() bool

	// OnUnavailable is invoked at most once per run of consecutive
	// failures, when read_physics has failed continuously for longer than
	// FailureWindow; a successful read re-arms it.
	OnUnavailable func(error)
}

// Run drives the tick loop until ctx is cancelled. It never returns an
// error; persistent failures are reported via OnUnavailable.
func (p *Physics) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Period)
	defer ticker.Stop()

	var firstFailure time.Time
	reported := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.LapOpen() {
				continue
			}

			paused, err := p.Adapter.IsPaused(p.Handle)
			if err == nil && paused {
				continue
			}

			view, err := p.Adapter.ReadPhysics(p.Handle)
			if err != nil {
				if p.Log != nil {
					p.Log.WithError(err).Debug("physics sampler: read_physics failed, skipping tick")
				}
				if firstFailure.IsZero() {
					firstFailure = time.Now()
				} else if !reported && time.Since(firstFailure) > p.FailureWindow {
					reported = true
					if p.OnUnavailable != nil {
						p.OnUnavailable(ErrSourceUnavailable)
					}
				}
				continue
			}
			firstFailure = time.Time{}
			reported = false

			sample := toSample(view.LapNumber, view)
			select {
			case p.Out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}
}

func toSample(lapNumber int, v source.PhysicsView) model.PhysicsSample {
	return model.PhysicsSample{
		LapNumber:    lapNumber,
		ElapsedTime:  v.ElapsedTime,
		WallClock:    time.Now(),
		PositionX:    v.PositionX,
		PositionY:    v.PositionY,
		PositionZ:    v.PositionZ,
		VelocityX:    v.VelocityX,
		VelocityY:    v.VelocityY,
		VelocityZ:    v.VelocityZ,
		SpeedKMH:     v.SpeedKMH,
		Throttle:     v.Throttle,
		Brake:        v.Brake,
		Steering:     v.Steering,
		Gear:         v.Gear,
		RPM:          v.RPM,
		FuelKG:       v.FuelKG,
		BrakeTempC:   v.BrakeTempC,
		TyreTempC:    v.TyreTempC,
		TyrePressKPa: v.TyrePressKPa,
		SuspDeflect:  v.SuspDeflect,
		DamageFront:  v.DamageFront,
		DamageRear:   v.DamageRear,
		DamageLeft:   v.DamageLeft,
		DamageRight:  v.DamageRight,
		InPits:       v.InPits,
	}
}
