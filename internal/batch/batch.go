// Package batch implements the Batch Buffer: per-lap, per-stream
// accumulation with a size-or-time flush trigger (spec §4.6). Grounded
// on the teacher's LiveFeedStreamer.broadcast drop-oldest-on-overflow
// select-default pattern (livefeed/streamer.go), composed with the
// size-or-time flush timer and per-shard counters from the Prometheus
// remote-write queue manager.
package batch

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PossumXI/Asgard/Herbie/internal/model"
)

// Flush is one size- or time-bounded contiguous slice of one lap's
// stream, handed to the Upload Pipeline.
type Flush struct {
	Batch model.UploadBatch
}

// streamBuffer accumulates one stream (physics or scoring) for one lap.
type streamBuffer struct {
	physics []model.PhysicsSample
	scoring []model.ScoringSnapshot
	index   int
	opened  time.Time
}

// Buffer accumulates physics and scoring records per lap and flushes on
// size or time deadline, whichever comes first (spec §4.6).
type Buffer struct {
	mu sync.Mutex

	physicsSize int
	scoringSize int
	physicsTTL  time.Duration
	scoringTTL  time.Duration

	streams map[int]map[model.StreamKind]*streamBuffer

	log *logrus.Entry

	// Out receives ready batches. Sends never block the producer beyond
	// capacity: a saturated Out triggers Dropped, never a blocked caller.
	Out chan Flush

	// Dropped counts samples lost to backpressure (spec §4.6, the only
	// place data loss is permitted).
	Dropped int64
}

// New creates a Buffer with the given size and time flush thresholds.
func New(log *logrus.Entry, physicsSize, scoringSize int, physicsTTL, scoringTTL time.Duration) *Buffer {
	return &Buffer{
		physicsSize: physicsSize,
		scoringSize: scoringSize,
		physicsTTL:  physicsTTL,
		scoringTTL:  scoringTTL,
		streams:     make(map[int]map[model.StreamKind]*streamBuffer),
		log:         log,
		Out:         make(chan Flush, 256),
	}
}

func (b *Buffer) streamFor(lap int, kind model.StreamKind) *streamBuffer {
	byKind, ok := b.streams[lap]
	if !ok {
		byKind = make(map[model.StreamKind]*streamBuffer)
		b.streams[lap] = byKind
	}
	sb, ok := byKind[kind]
	if !ok {
		sb = &streamBuffer{opened: time.Now()}
		byKind[kind] = sb
	}
	return sb
}

// AddPhysics appends one physics sample to its lap's buffer, flushing
// when the size threshold is reached.
func (b *Buffer) AddPhysics(lap int, s model.PhysicsSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.streamFor(lap, model.StreamPhysics)
	sb.physics = append(sb.physics, s)
	if len(sb.physics) >= b.physicsSize {
		b.flushPhysicsLocked(lap, sb)
	}
}

// AddScoring appends one scoring snapshot to its lap's buffer, flushing
// when the size threshold is reached.
func (b *Buffer) AddScoring(lap int, s model.ScoringSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb := b.streamFor(lap, model.StreamScoring)
	sb.scoring = append(sb.scoring, s)
	if len(sb.scoring) >= b.scoringSize {
		b.flushScoringLocked(lap, sb)
	}
}

// Tick flushes any stream whose time deadline has elapsed. Called by the
// Agent supervisor on a periodic cadence.
func (b *Buffer) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for lap, byKind := range b.streams {
		if sb, ok := byKind[model.StreamPhysics]; ok && len(sb.physics) > 0 && now.Sub(sb.opened) >= b.physicsTTL {
			b.flushPhysicsLocked(lap, sb)
		}
		if sb, ok := byKind[model.StreamScoring]; ok && len(sb.scoring) > 0 && now.Sub(sb.opened) >= b.scoringTTL {
			b.flushScoringLocked(lap, sb)
		}
	}
}

// DroppedCount returns a snapshot of the Dropped counter, safe to call
// concurrently with AddPhysics/AddScoring/Tick/CloseLap.
func (b *Buffer) DroppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Dropped
}

// CloseLap forces a final flush of both streams' tails for a lap (spec
// §4.6 "closing a lap forces a final flush").
func (b *Buffer) CloseLap(lap int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byKind, ok := b.streams[lap]
	if !ok {
		return
	}
	if sb, ok := byKind[model.StreamPhysics]; ok && len(sb.physics) > 0 {
		b.flushPhysicsLocked(lap, sb)
	}
	if sb, ok := byKind[model.StreamScoring]; ok && len(sb.scoring) > 0 {
		b.flushScoringLocked(lap, sb)
	}
	delete(b.streams, lap)
}

func (b *Buffer) flushPhysicsLocked(lap int, sb *streamBuffer) {
	batch := model.UploadBatch{LapNumber: lap, Stream: model.StreamPhysics, Index: sb.index, Physics: sb.physics}
	sb.index++
	sb.physics = nil
	sb.opened = time.Now()
	b.send(Flush{Batch: batch})
}

func (b *Buffer) flushScoringLocked(lap int, sb *streamBuffer) {
	batch := model.UploadBatch{LapNumber: lap, Stream: model.StreamScoring, Index: sb.index, Scoring: sb.scoring}
	sb.index++
	sb.scoring = nil
	sb.opened = time.Now()
	b.send(Flush{Batch: batch})
}

// send is the sole backpressure point: if the Upload Pipeline cannot
// keep up, the oldest pending batch is dropped and counted (spec §4.6).
func (b *Buffer) send(f Flush) {
	select {
	case b.Out <- f:
		return
	default:
	}
	select {
	case old := <-b.Out:
		b.Dropped += int64(len(old.Batch.Physics) + len(old.Batch.Scoring))
		if b.log != nil {
			b.log.Warn("batch output channel saturated, dropped oldest pending batch")
		}
	default:
	}
	select {
	case b.Out <- f:
	default:
		b.Dropped += int64(len(f.Batch.Physics) + len(f.Batch.Scoring))
	}
}
