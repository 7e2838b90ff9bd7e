package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PossumXI/Asgard/Herbie/internal/batch"
	"github.com/PossumXI/Asgard/Herbie/internal/model"
	"github.com/PossumXI/Asgard/Herbie/internal/ratelimit"
)

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	raw, _ := json.Marshal(data)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": json.RawMessage(raw), "status": 200})
}

func newTestPipeline(baseURL string) *Pipeline {
	return &Pipeline{
		Client:        NewClient(baseURL, time.Second),
		Limiter:       ratelimit.NewLimiter(1000, time.Minute),
		Backoff:       func() *ratelimit.Backoff { return ratelimit.NewBackoff(time.Millisecond, 10*time.Millisecond, 2, false) },
		RetryAttempts: 3,
		LimitWaitMax:  time.Second,
		Session:       model.Session{UserID: "u1", Track: "Monza", StartedAt: time.Now()},
		Vehicle:       model.Vehicle{SlotID: 0, DriverName: "d", Name: "car"},
	}
}

// TestPipeline_TransientErrorThenSuccess covers scenario S4 (spec §8 S4):
// a transient 500 is retried and eventually succeeds, with no duplicate
// create_lap call.
func TestPipeline_TransientErrorThenSuccess(t *testing.T) {
	var createLapCalls int32
	var dataCalls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/telemetry/sessions":
			writeEnvelope(w, map[string]any{"id": 1})
		case "/api/telemetry/vehicles":
			writeEnvelope(w, map[string]any{"id": 1})
		case "/api/telemetry/laps":
			atomic.AddInt32(&createLapCalls, 1)
			writeEnvelope(w, map[string]any{"id": 42})
		case "/api/telemetry/data":
			n := atomic.AddInt32(&dataCalls, 1)
			if n <= 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeEnvelope(w, map[string]any{})
		case "/api/telemetry/summary", "/api/telemetry/conditions":
			writeEnvelope(w, map[string]any{})
		}
	}))
	defer srv.Close()

	p := newTestPipeline(srv.URL)
	p.RetryAttempts = 5
	ctx := context.Background()

	if err := p.EnsureSessionAndVehicle(ctx); err != nil {
		t.Fatalf("ensure session/vehicle failed: %v", err)
	}

	l := &model.Lap{Number: 1, StartElapsed: 0, Physics: []model.PhysicsSample{{ElapsedTime: 0, SpeedKMH: 100}}}
	batches := []batch.Flush{{Batch: model.UploadBatch{LapNumber: 1, Stream: model.StreamPhysics, Physics: l.Physics}}}

	if err := p.UploadLap(ctx, l, batches); err != nil {
		t.Fatalf("expected lap to eventually upload, got %v", err)
	}
	if l.State != model.LapUploaded {
		t.Fatalf("expected lap Uploaded, got %v", l.State)
	}
	if atomic.LoadInt32(&createLapCalls) != 1 {
		t.Fatalf("expected exactly one create_lap call, got %d", createLapCalls)
	}
	if p.Counters().RetryAttempts < 2 {
		t.Fatalf("expected at least 2 retry attempts, got %d", p.Counters().RetryAttempts)
	}
}

// TestPipeline_PermanentClientErrorNotRetried covers scenario S5 (spec
// §8 S5): a 400 on create_lap fails the lap without retry.
func TestPipeline_PermanentClientErrorNotRetried(t *testing.T) {
	var createLapCalls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/telemetry/sessions", "/api/telemetry/vehicles":
			writeEnvelope(w, map[string]any{"id": 1})
		case "/api/telemetry/laps":
			atomic.AddInt32(&createLapCalls, 1)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	p := newTestPipeline(srv.URL)
	ctx := context.Background()
	if err := p.EnsureSessionAndVehicle(ctx); err != nil {
		t.Fatalf("ensure session/vehicle failed: %v", err)
	}

	l := &model.Lap{Number: 2, StartElapsed: 0}
	err := p.UploadLap(ctx, l, nil)
	if err == nil {
		t.Fatal("expected create_lap 400 to fail the lap")
	}
	if l.State != model.LapFailed {
		t.Fatalf("expected lap Failed, got %v", l.State)
	}
	if atomic.LoadInt32(&createLapCalls) != 1 {
		t.Fatalf("expected exactly one create_lap attempt (no retry on 4xx), got %d", createLapCalls)
	}
}

// TestPipeline_SummaryOrdering verifies property 6 (spec §8.6):
// max_speed >= avg_speed >= min_speed and fuel_used = max(0, start-end).
func TestPipeline_SummaryOrdering(t *testing.T) {
	samples := []model.PhysicsSample{
		{SpeedKMH: 100, FuelKG: 50},
		{SpeedKMH: 200, FuelKG: 45},
		{SpeedKMH: 150, FuelKG: 40},
	}
	s := model.Summarize(samples)
	if !(s.MaxSpeedKMH >= s.AvgSpeedKMH && s.AvgSpeedKMH >= s.MinSpeedKMH) {
		t.Fatalf("expected max >= avg >= min, got %v/%v/%v", s.MaxSpeedKMH, s.AvgSpeedKMH, s.MinSpeedKMH)
	}
	if s.FuelUsed != 10 {
		t.Fatalf("expected fuel_used=10, got %v", s.FuelUsed)
	}
}
