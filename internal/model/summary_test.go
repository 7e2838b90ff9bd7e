package model

import "testing"

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.MaxSpeedKMH != 0 || s.TotalDistance != 0 {
		t.Fatalf("expected zero-value summary, got %+v", s)
	}
}

func TestSummarize_SpeedBounds(t *testing.T) {
	samples := []PhysicsSample{
		{SpeedKMH: 100, FuelKG: 50, PositionX: 0},
		{SpeedKMH: 200, FuelKG: 48, PositionX: 10},
		{SpeedKMH: 150, FuelKG: 46, PositionX: 20},
	}
	s := Summarize(samples)

	if s.MaxSpeedKMH < s.AvgSpeedKMH || s.AvgSpeedKMH < s.MinSpeedKMH {
		t.Fatalf("aggregate ordering violated: max=%v avg=%v min=%v", s.MaxSpeedKMH, s.AvgSpeedKMH, s.MinSpeedKMH)
	}
	if s.MaxSpeedKMH != 200 || s.MinSpeedKMH != 100 {
		t.Fatalf("unexpected bounds: %+v", s)
	}
	if s.FuelUsed != 4 {
		t.Fatalf("expected fuel used 4, got %v", s.FuelUsed)
	}
	if s.TotalDistance != 20 {
		t.Fatalf("expected distance 20, got %v", s.TotalDistance)
	}
}

func TestSummarize_FuelNeverNegative(t *testing.T) {
	samples := []PhysicsSample{
		{SpeedKMH: 10, FuelKG: 40},
		{SpeedKMH: 10, FuelKG: 45}, // refuel mid-lap shouldn't go negative
	}
	s := Summarize(samples)
	if s.FuelUsed != 0 {
		t.Fatalf("expected fuel used clamped to 0, got %v", s.FuelUsed)
	}
}
