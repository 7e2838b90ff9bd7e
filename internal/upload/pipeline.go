package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Herbie/internal/batch"
	"github.com/PossumXI/Asgard/Herbie/internal/model"
	"github.com/PossumXI/Asgard/Herbie/internal/ratelimit"
	"github.com/PossumXI/Asgard/Herbie/internal/telemetry"
)

// Counters mirrors the subset of Agent.Status surfaced by the Upload
// Pipeline (spec §4.8).
type Counters struct {
	SamplesUploaded int64
	LapsUploaded    int64
	LapsFailed      int64
	BytesOut        int64
	RetryAttempts   int64
}

// Pipeline orchestrates the seven-step remote sequence per lap (spec
// §4.7), retrying each step with exponential backoff and pacing requests
// through a shared rate limiter.
type Pipeline struct {
	Client  *Client
	Limiter *ratelimit.Limiter
	Backoff func() *ratelimit.Backoff // factory: a fresh Backoff per retried step

	RetryAttempts int
	LimitWaitMax  time.Duration

	Log *logrus.Entry

	// Metrics, when set, receives BytesOut as a Prometheus observation
	// (spec §4.8 Status "bytes in/out"); the other Counters() fields are
	// not mirrored to it. Left nil in tests that don't need a registry.
	Metrics *telemetry.Metrics

	Session model.Session
	Vehicle model.Vehicle

	mu       sync.Mutex
	counters Counters

	// OnSessionConfirmed fires once ensure_session/ensure_vehicle both
	// succeed, letting the Lifecycle Manager release pending laps (spec
	// §4.4 "Session initialisation").
	OnSessionConfirmed func()
}

// Counters returns a snapshot of the pipeline's counters.
func (p *Pipeline) Counters() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

// EnsureSessionAndVehicle performs steps 1-2 once per agent run (spec
// §4.7). It must complete before any lap upload is attempted.
func (p *Pipeline) EnsureSessionAndVehicle(ctx context.Context) error {
	if !p.Session.Sealed() {
		err := p.withRetryNoResult(ctx, "ensure_session", func(ctx context.Context) error {
			sessionID, err := p.Client.EnsureSession(ctx, SessionDescriptor{
				UserID:       p.Session.UserID,
				SessionType:  sessionTypeString(p.Session.Type),
				TrackName:    p.Session.Track,
				SessionStamp: p.Session.StartedAt.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return err
			}
			p.Session.RemoteID = sessionID
			return nil
		})
		if err != nil {
			return fmt.Errorf("ensure_session: %w", err)
		}
	}

	if p.Vehicle.RemoteID == 0 {
		err := p.withRetryNoResult(ctx, "ensure_vehicle", func(ctx context.Context) error {
			vehicleID, err := p.Client.EnsureVehicle(ctx, VehicleDescriptor{
				SessionID:   p.Session.RemoteID,
				SlotID:      p.Vehicle.SlotID,
				DriverName:  p.Vehicle.DriverName,
				VehicleName: p.Vehicle.Name,
			})
			if err != nil {
				return err
			}
			p.Vehicle.RemoteID = vehicleID
			return nil
		})
		if err != nil {
			return fmt.Errorf("ensure_vehicle: %w", err)
		}
	}

	if p.OnSessionConfirmed != nil {
		p.OnSessionConfirmed()
	}
	return nil
}

func sessionTypeString(t model.SessionType) string {
	switch t {
	case model.SessionQualifying:
		return "qualifying"
	case model.SessionRace:
		return "race"
	case model.SessionTimeTrial:
		return "time_trial"
	default:
		return "practice"
	}
}

// UploadLap runs steps 3a-3e for one Valid Closed lap and its already
// flushed batches, then marks it Uploaded or Failed (spec §4.7 step 4).
// createLap is attempted at most once per lap in program order (spec §8
// property 8).
func (p *Pipeline) UploadLap(ctx context.Context, l *model.Lap, batches []batch.Flush) error {
	lapID, err := p.createLap(ctx, l)
	if err != nil {
		l.State = model.LapFailed
		l.FailureReason = err.Error()
		p.mu.Lock()
		p.counters.LapsFailed++
		p.mu.Unlock()
		return err
	}

	if sectors, ok := lastSectorTimes(l.Scoring); ok {
		_ = p.withRetryNoResult(ctx, "create_timing", func(ctx context.Context) error {
			return p.Client.CreateTiming(ctx, SectorTimes{
				LapID:   lapID,
				Sector1: sectors.BestSector1,
				Sector2: sectors.BestSector2,
				Sector3: sectors.BestSector3,
			})
		})
	}

	for _, f := range batches {
		if err := p.insertBatch(ctx, lapID, f.Batch); err != nil {
			l.State = model.LapFailed
			l.FailureReason = err.Error()
			p.mu.Lock()
			p.counters.LapsFailed++
			p.mu.Unlock()
			return err
		}
	}

	summary := model.Summarize(l.Physics)
	err = p.withRetryNoResult(ctx, "create_lap_summary", func(ctx context.Context) error {
		return p.Client.CreateLapSummary(ctx, SummaryAggregates{
			LapID:         lapID,
			MaxSpeedKMH:   summary.MaxSpeedKMH,
			AvgSpeedKMH:   summary.AvgSpeedKMH,
			MinSpeedKMH:   summary.MinSpeedKMH,
			MaxRPM:        summary.MaxRPM,
			AvgRPM:        summary.AvgRPM,
			AvgThrottle:   summary.AvgThrottle,
			AvgBrake:      summary.AvgBrake,
			FuelUsed:      summary.FuelUsed,
			TotalDistance: summary.TotalDistance,
		})
	})
	if err != nil {
		l.State = model.LapFailed
		l.FailureReason = err.Error()
		p.mu.Lock()
		p.counters.LapsFailed++
		p.mu.Unlock()
		return err
	}

	_ = p.withRetryNoResult(ctx, "create_session_conditions", func(ctx context.Context) error {
		return p.Client.CreateSessionConditions(ctx, SampledConditions{
			SessionID: p.Session.RemoteID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})

	l.State = model.LapUploaded
	p.mu.Lock()
	p.counters.LapsUploaded++
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) createLap(ctx context.Context, l *model.Lap) (int64, error) {
	var lapID int64
	err := p.withRetryNoResult(ctx, "create_lap", func(ctx context.Context) error {
		id, err := p.Client.CreateLap(ctx, LapDescriptor{
			UserID:       p.Session.UserID,
			SessionID:    p.Session.RemoteID,
			VehicleID:    p.Vehicle.RemoteID,
			LapNumber:    l.Number,
			LapStartTime: l.StartElapsed,
		})
		if err != nil {
			return err
		}
		lapID = id
		return nil
	})
	return lapID, err
}

func (p *Pipeline) insertBatch(ctx context.Context, lapID int64, b model.UploadBatch) error {
	points := make([]TelemetryPoint, 0, len(b.Physics)+len(b.Scoring))
	for _, s := range b.Physics {
		points = append(points, physicsPoint(s))
	}
	for _, s := range b.Scoring {
		points = append(points, scoringPoint(s))
	}

	err := p.withRetryNoResult(ctx, "insert_samples", func(ctx context.Context) error {
		return p.Client.InsertSamples(ctx, lapID, points)
	})
	if err == nil {
		size := approxPayloadSize(points)
		p.mu.Lock()
		p.counters.SamplesUploaded += int64(len(points))
		p.counters.BytesOut += size
		p.mu.Unlock()
		if p.Metrics != nil {
			p.Metrics.BytesOut.Add(float64(size))
		}
	}
	return err
}

// approxPayloadSize estimates the wire size of a batch's telemetry
// points (spec §4.8 Status "bytes in/out" — approximate, not the exact
// HTTP payload including headers/envelope).
func approxPayloadSize(points []TelemetryPoint) int64 {
	data, err := json.Marshal(points)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

func physicsPoint(s model.PhysicsSample) TelemetryPoint {
	return TelemetryPoint{
		"sample_time": s.ElapsedTime,
		"speed_kmh":   s.SpeedKMH,
		"throttle":    s.Throttle,
		"brake":       s.Brake,
		"rpm":         s.RPM,
	}
}

// lastSectorTimes returns the most recent scoring snapshot's best-sector
// fields, the source for the optional create_timing step (spec §6 step
// 4). Reports ok=false when the lap has no scoring snapshots.
func lastSectorTimes(snapshots []model.ScoringSnapshot) (model.ScoringSnapshot, bool) {
	if len(snapshots) == 0 {
		return model.ScoringSnapshot{}, false
	}
	return snapshots[len(snapshots)-1], true
}

func scoringPoint(s model.ScoringSnapshot) TelemetryPoint {
	return TelemetryPoint{
		"sample_time": s.ElapsedTime,
		"trigger":     string(s.Trigger),
		"position":    s.Position,
	}
}

// withRetryNoResult runs fn with exponential backoff, honouring spec
// §4.7's retry policy (4xx except 429 final; 5xx retried up to
// RetryAttempts) and pacing each attempt through the shared rate
// limiter. Per spec §7, RateLimitExceeded (a Limiter.Wait timeout or an
// HTTP 429) is waited-and-retried but never counts against
// RetryAttempts; only non-rate-limit failures consume the bounded
// attempt budget.
func (p *Pipeline) withRetryNoResult(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	bo := p.Backoff()
	var lastErr error
	attempt := 0

	for attempt < p.RetryAttempts {
		if err := p.Limiter.Wait(p.LimitWaitMax); err != nil {
			lastErr = err
			p.mu.Lock()
			p.counters.RetryAttempts++
			p.mu.Unlock()
			if p.Log != nil {
				p.Log.WithError(err).WithField("step", step).Warn("rate limit wait exceeded budget, retrying (not counted against retry_attempts)")
			}
			select {
			case <-time.After(bo.NextDelay()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		err := fn(ctx)
		if err == nil {
			bo.Reset()
			return nil
		}
		lastErr = err

		var uploadErr *Error
		if as(err, &uploadErr) {
			if !uploadErr.Retryable() {
				return err
			}
			if uploadErr.Kind == KindRateLimited {
				p.mu.Lock()
				p.counters.RetryAttempts++
				p.mu.Unlock()
				if p.Log != nil {
					p.Log.WithError(err).WithField("step", step).Warn("rate limited, retrying (not counted against retry_attempts)")
				}
				select {
				case <-time.After(bo.NextDelay()):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
		}

		attempt++
		p.mu.Lock()
		p.counters.RetryAttempts++
		p.mu.Unlock()
		if p.Log != nil {
			p.Log.WithError(err).WithField("step", step).WithField("attempt", attempt).Warn("upload step failed, retrying")
		}

		select {
		case <-time.After(bo.NextDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func as(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}
