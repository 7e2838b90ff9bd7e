package sampler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Herbie/internal/model"
	"github.com/PossumXI/Asgard/Herbie/internal/source"
)

// scoringState tracks the last-seen watched fields the trigger table
// compares against (spec §4.3). A fresh state is installed at each lap
// rotation via Reset, so the first snapshot of a new lap always fires.
type scoringState struct {
	sectorIndex int
	lastLapTime float64
	position    int
	lastEmit    time.Time
	init        bool
}

func (s *scoringState) reset(now time.Time) {
	*s = scoringState{lastEmit: now}
}

// Scoring runs the Scoring Sampler: polled faster than it emits,
// computing the fixed evaluation-order trigger table from spec §4.3
// (sector_complete -> lap_complete -> position_change -> periodic).
// Grounded on original_source's snapshot_collector.py
// _collect_scoring_snapshot, same field comparisons and same order.
type Scoring struct {
	Adapter        source.Adapter
	Handle         source.Handle
	PollPeriod     time.Duration
	PeriodicPeriod time.Duration
	Out            chan<- model.ScoringSnapshot
	Log            *logrus.Entry

	// LapOpen reports whether the agent is currently recording; the lap
	// number itself comes from the ScoringView, not from this gate.
	LapOpen func() bool

	state scoringState
}

// ResetForNewLap installs a fresh ScoringState so the lifecycle manager
// can force a periodic-trigger emission at the start of every lap (spec
// §4.3 "fresh baselines").
func (s *Scoring) ResetForNewLap(now time.Time) {
	s.state.reset(now)
}

// Run drives the poll loop until ctx is cancelled.
func (s *Scoring) Run(ctx context.Context) {
	ticker := time.NewTicker(s.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.LapOpen() {
				continue
			}

			paused, err := s.Adapter.IsPaused(s.Handle)
			if err == nil && paused {
				continue
			}

			view, err := s.Adapter.ReadScoring(s.Handle)
			if err != nil {
				if s.Log != nil {
					s.Log.WithError(err).Debug("scoring sampler: read_scoring failed, skipping poll")
				}
				continue
			}

			now := time.Now()
			trigger, fire := s.evaluate(view, now)
			if !fire {
				continue
			}

			snap := toSnapshot(view.LapNumber, view, trigger, now)
			s.state.sectorIndex = view.SectorIndex
			s.state.lastLapTime = view.LastLapTime
			s.state.position = view.Position
			s.state.lastEmit = now

			select {
			case s.Out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}
}

// evaluate applies the fixed evaluation order from spec §4.3: the first
// matching condition wins.
func (s *Scoring) evaluate(v source.ScoringView, now time.Time) (model.ScoringTrigger, bool) {
	if !s.state.init {
		s.state.init = true
		s.state.sectorIndex = v.SectorIndex
		s.state.lastLapTime = v.LastLapTime
		s.state.position = v.Position
		s.state.lastEmit = now
		return model.TriggerPeriodic, true
	}

	if v.SectorIndex != s.state.sectorIndex {
		return model.TriggerSectorComplete, true
	}
	if v.LastLapTime != s.state.lastLapTime && v.LastLapTime > 0 {
		return model.TriggerLapComplete, true
	}
	if v.Position != s.state.position {
		return model.TriggerPositionChange, true
	}
	if now.Sub(s.state.lastEmit) >= s.PeriodicPeriod {
		return model.TriggerPeriodic, true
	}
	return "", false
}

func toSnapshot(lapNumber int, v source.ScoringView, trigger model.ScoringTrigger, now time.Time) model.ScoringSnapshot {
	return model.ScoringSnapshot{
		LapNumber:     lapNumber,
		ElapsedTime:   v.ElapsedTime,
		WallClock:     now,
		Trigger:       trigger,
		SectorIndex:   v.SectorIndex,
		LastLapTime:   v.LastLapTime,
		Position:      v.Position,
		BestSector1:   v.BestSector1,
		BestSector2:   v.BestSector2,
		BestSector3:   v.BestSector3,
		CurrentSector: v.CurrentSector,
		InPits:        v.InPits,
		Flag:          v.Flag,
	}
}
