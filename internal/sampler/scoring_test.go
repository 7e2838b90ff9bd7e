package sampler

import (
	"context"
	"testing"
	"time"

	"github.com/PossumXI/Asgard/Herbie/internal/model"
	"github.com/PossumXI/Asgard/Herbie/internal/source"
)

// TestScoring_TriggerEvaluationOrder verifies property 4 (spec §8.4): when
// multiple watched fields change simultaneously, sector_complete wins
// over lap_complete, which wins over position_change, which wins over
// periodic.
func TestScoring_TriggerEvaluationOrder(t *testing.T) {
	s := &Scoring{PeriodicPeriod: time.Second}
	now := time.Now()
	s.state = scoringState{init: true, sectorIndex: 1, lastLapTime: 90, position: 2, lastEmit: now}

	// All four conditions true at once: sector changed, lap time changed,
	// position changed, and the periodic deadline has passed.
	v := source.ScoringView{SectorIndex: 2, LastLapTime: 91, Position: 3}
	trigger, fire := s.evaluate(v, now.Add(2*time.Second))
	if !fire || trigger != model.TriggerSectorComplete {
		t.Fatalf("expected sector_complete to win, got trigger=%v fire=%v", trigger, fire)
	}
}

func TestScoring_LapCompleteBeatsPositionAndPeriodic(t *testing.T) {
	s := &Scoring{PeriodicPeriod: time.Second}
	now := time.Now()
	s.state = scoringState{init: true, sectorIndex: 1, lastLapTime: 90, position: 2, lastEmit: now}

	v := source.ScoringView{SectorIndex: 1, LastLapTime: 95, Position: 3}
	trigger, fire := s.evaluate(v, now.Add(2*time.Second))
	if !fire || trigger != model.TriggerLapComplete {
		t.Fatalf("expected lap_complete, got trigger=%v fire=%v", trigger, fire)
	}
}

func TestScoring_ZeroLapTimeNeverTriggersLapComplete(t *testing.T) {
	s := &Scoring{PeriodicPeriod: time.Second}
	now := time.Now()
	s.state = scoringState{init: true, sectorIndex: 1, lastLapTime: 90, position: 2, lastEmit: now}

	v := source.ScoringView{SectorIndex: 1, LastLapTime: 0, Position: 2}
	_, fire := s.evaluate(v, now.Add(100*time.Millisecond))
	if fire {
		t.Fatal("last_laptime of 0 must never trigger lap_complete")
	}
}

func TestScoring_PeriodicOnlyAfterDeadline(t *testing.T) {
	s := &Scoring{PeriodicPeriod: time.Second}
	now := time.Now()
	s.state = scoringState{init: true, sectorIndex: 1, lastLapTime: 90, position: 2, lastEmit: now}

	v := source.ScoringView{SectorIndex: 1, LastLapTime: 90, Position: 2}
	if _, fire := s.evaluate(v, now.Add(500*time.Millisecond)); fire {
		t.Fatal("periodic must not fire before its deadline")
	}
	trigger, fire := s.evaluate(v, now.Add(1100*time.Millisecond))
	if !fire || trigger != model.TriggerPeriodic {
		t.Fatalf("expected periodic after deadline, got trigger=%v fire=%v", trigger, fire)
	}
}

func TestScoring_ResetForNewLapFiresFreshPeriodic(t *testing.T) {
	s := &Scoring{PeriodicPeriod: time.Second}
	now := time.Now()
	s.ResetForNewLap(now)

	v := source.ScoringView{SectorIndex: 0, LastLapTime: 0, Position: 1}
	trigger, fire := s.evaluate(v, now)
	if !fire || trigger != model.TriggerPeriodic {
		t.Fatalf("expected the first snapshot of a new lap to fire via periodic, got trigger=%v fire=%v", trigger, fire)
	}
}

func TestScoring_RunEmitsOnTrigger(t *testing.T) {
	adapter := &source.ReplayAdapter{
		NextScoring: func(call int) (source.ScoringView, bool) {
			return source.ScoringView{SectorIndex: call}, true
		},
	}
	h, _ := adapter.Open(context.Background(), 0, "", "utf-8")

	out := make(chan model.ScoringSnapshot, 100)
	s := &Scoring{
		Adapter:        adapter,
		Handle:         h,
		PollPeriod:     time.Millisecond,
		PeriodicPeriod: time.Hour,
		Out:            out,
		LapOpen:        func() bool { return true },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if len(out) == 0 {
		t.Fatal("expected at least one snapshot from changing sector indices")
	}
}
