// Package agent implements the Supervisor: owns the three long-running
// tasks (Physics Sampler, Scoring Sampler, Upload Pipeline) plus the Lap
// Lifecycle Manager, and exposes a read-only Status view (spec §4.8).
// Grounded on the teacher's cmd/valkyrie Valkyrie.Initialize/Start/
// Shutdown shape: one struct holding every subsystem, a
// context.WithCancel pair, a sync.WaitGroup joined on shutdown.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Herbie/internal/batch"
	"github.com/PossumXI/Asgard/Herbie/internal/config"
	"github.com/PossumXI/Asgard/Herbie/internal/lap"
	"github.com/PossumXI/Asgard/Herbie/internal/model"
	"github.com/PossumXI/Asgard/Herbie/internal/ratelimit"
	"github.com/PossumXI/Asgard/Herbie/internal/sampler"
	"github.com/PossumXI/Asgard/Herbie/internal/source"
	"github.com/PossumXI/Asgard/Herbie/internal/telemetry"
	"github.com/PossumXI/Asgard/Herbie/internal/upload"
	"github.com/PossumXI/Asgard/Herbie/internal/validate"
)

// ErrNotInitialized is returned by Start if called before Initialize.
var ErrNotInitialized = errors.New("agent: not initialized")

// TaskState is the run state of one supervised task, for Status.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskRunning TaskState = "running"
	TaskStopped TaskState = "stopped"
)

// Status is the read-only view the Supervisor exposes. Callers pull it
// at their own cadence; the Supervisor never pushes (spec §4.8).
type Status struct {
	PhysicsSampler TaskState
	ScoringSampler TaskState
	UploadPipeline TaskState
	LapManager     TaskState

	OpenLap lap.Status

	SamplesUploaded int64
	LapsUploaded    int64
	LapsFailed      int64
	BytesOut        int64
	RetryAttempts   int64
	BufferDropped   int64

	LastError error
	Uptime    time.Duration
}

// Agent is the Supervisor (spec §4.8).
type Agent struct {
	cfg config.Config
	log *logrus.Logger
	met *telemetry.Metrics

	adapter source.Adapter
	handle  source.Handle

	physics   *sampler.Physics
	scoring   *sampler.Scoring
	lifecycle *lap.Manager
	buf       *batch.Buffer
	validator *validate.Validator
	pipeline  *upload.Pipeline

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started time.Time
	lastErr error
	states  map[string]TaskState
}

// New constructs an uninitialized Agent. Call Initialize then Start.
func New(cfg config.Config, log *logrus.Logger, adapter source.Adapter, reg prometheus.Registerer) *Agent {
	return &Agent{
		cfg:     cfg,
		log:     log,
		met:     telemetry.NewMetrics(reg),
		adapter: adapter,
		states: map[string]TaskState{
			"physics": TaskPending, "scoring": TaskPending,
			"upload": TaskPending, "lifecycle": TaskPending,
		},
	}
}

// Initialize opens the Source Adapter, wires every component, and
// performs the upload preflight Ping (SPEC_FULL §6 supplement).
func (a *Agent) Initialize(ctx context.Context) error {
	h, err := a.adapter.Open(ctx, a.cfg.Source.AccessMode, a.cfg.Source.ProcessID, a.cfg.Source.CharEncoding)
	if err != nil {
		return err
	}
	a.handle = h

	client := upload.NewClient(a.cfg.API.BaseURL, a.cfg.API.Timeout())
	if err := client.Ping(ctx); err != nil {
		a.log.WithError(err).Warn("preflight ping failed, continuing (remote may come up later)")
	}

	limiter := ratelimit.NewLimiter(a.cfg.API.BatchSize, time.Minute)
	maxGap := time.Duration(a.cfg.Validation.MaxGapS * float64(time.Second))
	a.lifecycle = lap.New(a.log.WithField("component", "lifecycle"), maxGap)

	a.buf = batch.New(a.log.WithField("component", "batch"),
		100, 20, time.Second, 4*time.Second)

	a.validator = validate.New(a.cfg.Validation, nil)

	a.pipeline = &upload.Pipeline{
		Client:        client,
		Limiter:       limiter,
		Backoff:       func() *ratelimit.Backoff { return ratelimit.NewBackoff(a.cfg.API.RetryDelay(), 30*time.Second, 2, true) },
		RetryAttempts: a.cfg.API.RetryAttempts,
		LimitWaitMax:  a.cfg.LimitWaitMax(),
		Log:           a.log.WithField("component", "upload"),
		Metrics:       a.met,
	}
	track := a.cfg.Source.ProcessID
	if track == "" {
		track = "unknown"
	}
	a.pipeline.Session = model.Session{
		UserID:    a.cfg.API.UserID,
		Track:     track,
		Type:      model.SessionPractice,
		StartedAt: time.Now(),
	}
	a.pipeline.Vehicle = model.Vehicle{DriverName: a.cfg.API.UserID, Name: "unknown"}
	a.pipeline.OnSessionConfirmed = a.lifecycle.ConfirmSession

	a.lifecycle.OnSessionStart = func() {
		go func() {
			if err := a.pipeline.EnsureSessionAndVehicle(a.ctx); err != nil {
				a.setLastErr(err)
				a.log.WithError(err).Error("ensure_session/ensure_vehicle failed")
			}
		}()
	}

	a.scoring = &sampler.Scoring{
		Adapter:        a.adapter,
		Handle:         a.handle,
		PollPeriod:     a.cfg.Sampling.ScoringPollPeriod(),
		PeriodicPeriod: a.cfg.Sampling.ScoringPeriodic(),
		Log:            a.log.WithField("component", "scoring_sampler"),
	}
	a.lifecycle.OnNewLap = func(n int, wall time.Time) { a.scoring.ResetForNewLap(wall) }

	return nil
}

// Start launches the three long-running tasks and the Lifecycle Manager
// reactor in dependency order (spec §4.8).
func (a *Agent) Start(ctx context.Context) error {
	if a.lifecycle == nil {
		return ErrNotInitialized
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = time.Now()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.setState("lifecycle", TaskRunning)
		a.lifecycle.Run(a.ctx)
		a.setState("lifecycle", TaskStopped)
	}()

	physicsOut := make(chan model.PhysicsSample, 4096)
	a.physics = &sampler.Physics{
		Adapter:       a.adapter,
		Handle:        a.handle,
		Period:        a.cfg.Sampling.PhysicsPeriod(),
		FailureWindow: a.cfg.SourceFailureWindow(),
		Out:           physicsOut,
		Log:           a.log.WithField("component", "physics_sampler"),
		LapOpen:       a.lapOpen,
		OnUnavailable: func(err error) {
			a.setLastErr(err)
			a.met.SourceUnavailable.Inc()
		},
	}

	scoringOut := make(chan model.ScoringSnapshot, 256)
	a.scoring.Out = scoringOut
	a.scoring.LapOpen = a.lapOpen

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.setState("physics", TaskRunning)
		a.physics.Run(a.ctx)
		a.setState("physics", TaskStopped)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.setState("scoring", TaskRunning)
		a.scoring.Run(a.ctx)
		a.setState("scoring", TaskStopped)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.forwardSamples(physicsOut, scoringOut)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.setState("upload", TaskRunning)
		a.runUploadLoop(a.ctx)
		a.setState("upload", TaskStopped)
	}()

	return nil
}

// lapOpen gates the two samplers. This implementation always records once
// started: the Lifecycle Manager opens lap 1 itself from the very first
// observation (spec §4.4), so there is no separate "agent is recording but
// no lap is open yet" state to report here. A real shared-memory binding
// that exposes a session/track-loaded flag would plug that signal in here
// instead.
func (a *Agent) lapOpen() bool {
	return true
}

// forwardSamples moves sampler output into both the lifecycle manager
// (for boundary bookkeeping) and the batch buffer (for upload framing).
func (a *Agent) forwardSamples(physicsOut <-chan model.PhysicsSample, scoringOut <-chan model.ScoringSnapshot) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case s, ok := <-physicsOut:
			if !ok {
				return
			}
			a.met.SamplesCollected.WithLabelValues("physics").Inc()
			a.lifecycle.PushPhysics(s, s.LapNumber, s.InPits)
			if !s.InPits {
				a.buf.AddPhysics(s.LapNumber, s)
			}
		case s, ok := <-scoringOut:
			if !ok {
				return
			}
			a.met.SamplesCollected.WithLabelValues("scoring").Inc()
			a.lifecycle.PushScoring(s)
			a.buf.AddScoring(s.LapNumber, s)
		}
	}
}

// runUploadLoop drains Closed laps, validates them, and uploads the
// Valid ones, interleaved with periodic batch-buffer time flushes (spec
// §4.6, §4.7).
func (a *Agent) runUploadLoop(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	pending := map[int][]batch.Flush{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.buf.Tick()
			a.drainBatches(pending)
		case f := <-a.buf.Out:
			pending[f.Batch.LapNumber] = append(pending[f.Batch.LapNumber], f)
		case l := <-a.lifecycle.Closed():
			a.buf.CloseLap(l.Number)
			a.drainBatches(pending)
			a.met.LapsCollected.Inc()
			a.handleClosedLap(ctx, l, pending[l.Number])
			delete(pending, l.Number)
		}
	}
}

func (a *Agent) drainBatches(pending map[int][]batch.Flush) {
	for {
		select {
		case f := <-a.buf.Out:
			pending[f.Batch.LapNumber] = append(pending[f.Batch.LapNumber], f)
		default:
			return
		}
	}
}

func (a *Agent) handleClosedLap(ctx context.Context, l *model.Lap, batches []batch.Flush) {
	report := a.validator.Validate(a.pipeline.Session.Track, l)
	if !report.IsValid() {
		l.State = model.LapInvalid
		l.FailureReason = string(report.Result)
		a.met.LapsInvalid.WithLabelValues(string(report.Result)).Inc()
		if a.log != nil {
			a.log.WithField("lap", l.Number).WithField("reason", report.Result).Info("lap invalid, discarded")
		}
		return
	}
	a.met.LapsValid.Inc()
	l.State = model.LapUploading

	if err := a.pipeline.UploadLap(ctx, l, batches); err != nil {
		a.setLastErr(err)
		a.log.WithError(err).WithField("lap", l.Number).Error("lap upload failed")
		return
	}
}

// Shutdown cancels every task and joins within grace, per spec §4.8.
func (a *Agent) Shutdown(grace time.Duration) error {
	if a.cancel == nil {
		return nil
	}
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		a.log.Warn("shutdown grace period exceeded, abandoning remaining tasks")
		return errors.New("agent: shutdown grace period exceeded")
	}
}

func (a *Agent) setState(task string, s TaskState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[task] = s
}

func (a *Agent) setLastErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastErr = err
}

// Status returns a read-only snapshot (spec §4.8).
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	var counters upload.Counters
	if a.pipeline != nil {
		counters = a.pipeline.Counters()
	}
	var lapStatus lap.Status
	if a.lifecycle != nil {
		lapStatus = a.lifecycle.Status()
	}

	return Status{
		PhysicsSampler:  a.states["physics"],
		ScoringSampler:  a.states["scoring"],
		UploadPipeline:  a.states["upload"],
		LapManager:      a.states["lifecycle"],
		OpenLap:         lapStatus,
		SamplesUploaded: counters.SamplesUploaded,
		LapsUploaded:    counters.LapsUploaded,
		LapsFailed:      counters.LapsFailed,
		BytesOut:        counters.BytesOut,
		RetryAttempts:   counters.RetryAttempts,
		BufferDropped:   a.bufDropped(),
		LastError:       a.lastErr,
		Uptime:          time.Since(a.started),
	}
}

func (a *Agent) bufDropped() int64 {
	if a.buf == nil {
		return 0
	}
	return a.buf.DroppedCount()
}
