// Package lap implements the Lap Lifecycle Manager: a single reactor
// goroutine owning the Open lap and driving the
// Open->Closed->Valid|Invalid->Uploading->Uploaded|Failed state machine
// (spec §4.4). Grounded on the teacher's EmergencySystem.Monitor
// (failsafe/emergency.go): one consumer goroutine holding a mutex only
// across non-blocking state transitions, external writers only ever
// send on a channel.
package lap

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Herbie/internal/model"
)

// envelope is the MPMC input the two samplers push into; the Manager is
// its sole consumer (spec §4.4 atomicity).
type envelope struct {
	physics  *model.PhysicsSample
	scoring  *model.ScoringSnapshot
	lapTick  *lapObservation
}

// lapObservation carries the simulator's currently observed lap number
// and pit state, sampled by whichever sampler notices it first.
type lapObservation struct {
	number  int
	inPits  bool
	elapsed float64
	wall    time.Time
}

// ClosedLap is handed off to the Validator/Uploader once sealed.
type ClosedLap = model.Lap

// Manager owns the mutable Open lap and reacts to sampler input,
// boundary observations, and session-readiness on one goroutine (spec
// §4.4, §5).
type Manager struct {
	in     chan envelope
	closed chan *ClosedLap

	log *logrus.Entry

	mu sync.Mutex // guards fields read by Status(); never held across a blocking channel op

	open                 *model.Lap
	lastObservedLap      int
	lastElapsed          float64
	lastWall             time.Time
	sessionReady         bool
	pendingBeforeSession []*model.Lap

	maxGap time.Duration

	sessionStartTriggered bool

	// OnNewLap is invoked synchronously from the reactor goroutine right
	// before a new Open lap is installed, letting the Scoring Sampler
	// reset its trigger-table baselines (spec §4.3 "fresh baselines").
	OnNewLap func(lapNumber int, wall time.Time)

	// OnSessionStart is invoked once, on the first non-excluded sample
	// after process start, to trigger ensure_session (spec §4.4 "Session
	// initialisation").
	OnSessionStart func()
}

// New creates a Manager. maxGap is stored on the Manager but no lifecycle
// decision reads it: an Open lap is never discarded because of a source
// gap; it is sealed on the next lap-number change or on shutdown.
func New(log *logrus.Entry, maxGap time.Duration) *Manager {
	return &Manager{
		in:              make(chan envelope, 4096),
		closed:          make(chan *ClosedLap, 16),
		log:             log,
		lastObservedLap: -1,
		maxGap:          maxGap,
	}
}

// Closed returns the channel of sealed laps ready for validation.
func (m *Manager) Closed() <-chan *ClosedLap { return m.closed }

// ConfirmSession unblocks hand-off of the Open lap once the Upload
// Pipeline has resolved a session id (spec §4.4).
func (m *Manager) ConfirmSession() {
	m.mu.Lock()
	m.sessionReady = true
	pending := m.pendingBeforeSession
	m.pendingBeforeSession = nil
	m.mu.Unlock()

	for _, l := range pending {
		m.closed <- l
	}
}

// PushPhysics enqueues a sample for the reactor. Never blocks the
// calling sampler beyond channel capacity (spec §5 "samplers must not
// block on uploads").
func (m *Manager) PushPhysics(s model.PhysicsSample, observedLap int, inPits bool) {
	obs := &lapObservation{number: observedLap, inPits: inPits, elapsed: s.ElapsedTime, wall: s.WallClock}
	select {
	case m.in <- envelope{physics: &s, lapTick: obs}:
	default:
		m.dropOldest()
		m.in <- envelope{physics: &s, lapTick: obs}
	}
}

// PushScoring enqueues a scoring snapshot for the reactor.
func (m *Manager) PushScoring(s model.ScoringSnapshot) {
	m.in <- envelope{scoring: &s}
}

// dropOldest is the sole permitted data-loss point (spec §4.6): it never
// runs on the reactor goroutine itself, only as backpressure from a full
// input channel.
func (m *Manager) dropOldest() {
	select {
	case <-m.in:
		if m.log != nil {
			m.log.Warn("lap input channel saturated, dropped oldest envelope")
		}
	default:
	}
}

// Run drains the input channel until ctx is cancelled, then performs the
// graceful-shutdown drain protocol: the Open lap is always sealed and
// offered on Closed without blocking (see sealOnShutdown); whoever reads
// Closed decides Valid vs Invalid.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.sealOnShutdown()
			return
		case e := <-m.in:
			m.handle(e)
		}
	}
}

func (m *Manager) handle(e envelope) {
	if e.lapTick != nil {
		m.observeLap(*e.lapTick)
	}

	m.mu.Lock()
	open := m.open
	m.mu.Unlock()
	if open == nil {
		return
	}

	inPits := e.lapTick != nil && e.lapTick.inPits

	if e.physics != nil {
		if !inPits {
			m.mu.Lock()
			open.Physics = append(open.Physics, *e.physics)
			m.lastElapsed = e.physics.ElapsedTime
			m.lastWall = e.physics.WallClock
			m.mu.Unlock()
		}
		if !inPits && !m.sessionStartTriggered {
			m.sessionStartTriggered = true
			if m.OnSessionStart != nil {
				m.OnSessionStart()
			}
		}
	}
	if e.scoring != nil {
		m.mu.Lock()
		open.Scoring = append(open.Scoring, *e.scoring)
		m.mu.Unlock()
	}
}

// observeLap implements boundary detection (spec §4.4): on a lap-number
// change, seal the Open lap and open a fresh one.
func (m *Manager) observeLap(obs lapObservation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastObservedLap == -1 {
		m.lastObservedLap = obs.number
		m.openLapLocked(obs.number, obs.wall, obs.elapsed)
		return
	}
	if obs.number == m.lastObservedLap {
		if obs.inPits && m.open != nil {
			m.open.InvalidPit = m.open.InvalidPit || m.allSamplesSoFarInPits()
		}
		return
	}

	m.lastObservedLap = obs.number
	m.sealOpenLocked(obs.wall, obs.elapsed)
	m.openLapLocked(obs.number, obs.wall, obs.elapsed)
}

func (m *Manager) allSamplesSoFarInPits() bool {
	if m.open == nil {
		return true
	}
	return len(m.open.Physics) == 0
}

func (m *Manager) openLapLocked(number int, wall time.Time, elapsed float64) {
	m.open = &model.Lap{
		Number:         number,
		StartWallClock: wall,
		StartElapsed:   elapsed,
		State:          model.LapOpen,
	}
	if m.OnNewLap != nil {
		m.OnNewLap(number, wall)
	}
}

func (m *Manager) sealOpenLocked(wall time.Time, elapsed float64) {
	if m.open == nil {
		return
	}
	l := m.open
	l.Close(wall, elapsed)
	m.open = nil

	if !m.sessionReady {
		m.pendingBeforeSession = append(m.pendingBeforeSession, l)
		return
	}
	select {
	case m.closed <- l:
	default:
		if m.log != nil {
			m.log.Error("closed-lap handoff channel saturated, lap dropped")
		}
	}
}

// sealOnShutdown implements the graceful-shutdown clause of spec §4.8:
// the Lifecycle Manager always seals the Open lap on shutdown; it is the
// Validator, not the Manager, that subsequently decides Valid vs Invalid.
func (m *Manager) sealOnShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open == nil {
		return
	}
	l := m.open
	wall := m.lastWall
	if wall.IsZero() {
		wall = time.Now()
	}
	elapsed := m.lastElapsed
	if elapsed < l.StartElapsed {
		elapsed = l.StartElapsed
	}
	l.Close(wall, elapsed)
	m.open = nil

	select {
	case m.closed <- l:
	default:
	}
}

// Status returns a read-only snapshot of the currently Open lap's
// accumulated sizes, for Agent.Status() (spec §4.8).
type Status struct {
	OpenLapNumber     int
	OpenPhysicsCount  int
	OpenScoringCount  int
	SessionReady      bool
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open == nil {
		return Status{OpenLapNumber: -1, SessionReady: m.sessionReady}
	}
	return Status{
		OpenLapNumber:    m.open.Number,
		OpenPhysicsCount: len(m.open.Physics),
		OpenScoringCount: len(m.open.Scoring),
		SessionReady:     m.sessionReady,
	}
}
