package synchronizer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/signalkeep/relay/internal/media"
)

// Clock abstracts time.Now so Run's absolute-time scheduling and the
// no-signal check can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultNoSignalTimeout is the synchronizer's own trust window over the
// slot's cached frame: distinct from, and longer than, the routing
// watchdog's no-data timeout.
const DefaultNoSignalTimeout = 5 * time.Second

// Synchronizer owns the single FrameSlot and the fixed-rate render loop. It
// is the only place a fixed output cadence is produced; everything
// upstream runs at whatever rate it naturally runs at.
type Synchronizer struct {
	log             *slog.Logger
	clock           Clock
	caps            media.Caps
	frameDuration   time.Duration
	noSignalTimeout time.Duration

	slot          *FrameSlot
	fallbackFrame *media.Frame
	onOutput      func(*media.Frame)

	// frameCount, lastPushedSeq and hasLastPushedSeq are touched only from
	// the single Run goroutine; no lock needed.
	frameCount       int64
	lastPushedSeq    uint64
	hasLastPushedSeq bool

	framesOut      atomic.Uint64
	framesRepeated atomic.Uint64
}

// New creates a Synchronizer that renders at caps.FrameDuration(). caps must
// be Valid(); it is the fixed output caps negotiated once at startup and
// never renegotiated.
func New(caps media.Caps, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{
		log:             log.With("component", "synchronizer"),
		clock:           realClock{},
		caps:            caps,
		frameDuration:   caps.FrameDuration(),
		noSignalTimeout: DefaultNoSignalTimeout,
		slot:            &FrameSlot{},
	}
}

// WithClock overrides the clock, for tests.
func (s *Synchronizer) WithClock(c Clock) *Synchronizer {
	s.clock = c
	return s
}

// WithNoSignalTimeout overrides the default no-signal trust window.
func (s *Synchronizer) WithNoSignalTimeout(d time.Duration) *Synchronizer {
	s.noSignalTimeout = d
	return s
}

// Slot returns the single-slot frame buffer.
func (s *Synchronizer) Slot() *FrameSlot { return s.slot }

// SetFallbackFrame installs the pre-allocated neutral frame shown whenever
// the slot is empty or its contents have gone stale past noSignalTimeout,
// even if the selector nominally believes it is still routing ingest.
func (s *Synchronizer) SetFallbackFrame(f *media.Frame) {
	s.fallbackFrame = f
}

// SetOnOutput installs the callback invoked once per render tick with the
// stamped frame to emit downstream (typically the encoder/output stage).
func (s *Synchronizer) SetOnOutput(f func(*media.Frame)) {
	s.onOutput = f
}

// Ingest is the ingress-side entry point: it stores f into the slot with
// the current time, assigning its in_seq. Wire the selector's OnFrame
// callback directly to this method.
func (s *Synchronizer) Ingest(f *media.Frame) {
	s.slot.Store(f, s.clock.Now())
}

// FramesOut returns the total number of render ticks that produced an
// output frame (property: monotonically non-decreasing while running).
func (s *Synchronizer) FramesOut() uint64 { return s.framesOut.Load() }

// FramesRepeated returns how many of those output frames repeated the
// previous tick's frame (the slot hadn't been written to since, or the
// synchronizer fell back to the fallback frame again).
func (s *Synchronizer) FramesRepeated() uint64 { return s.framesRepeated.Load() }

// selectFrame prefers the slot's current frame if it exists and is fresher
// than noSignalTimeout; otherwise it falls back to the pre-allocated
// fallback frame.
func (s *Synchronizer) selectFrame(now time.Time) *media.Frame {
	frame, storedAt, ok := s.slot.Load()
	if ok && now.Sub(storedAt) < s.noSignalTimeout {
		return frame
	}
	return s.fallbackFrame
}

// tick runs one render iteration: select a frame, detect repeats, stamp
// output timestamps, update counters, and emit.
func (s *Synchronizer) tick() {
	now := s.clock.Now()
	frame := s.selectFrame(now)
	if frame == nil {
		return
	}

	repeated := s.hasLastPushedSeq && frame.Seq == s.lastPushedSeq
	s.lastPushedSeq = frame.Seq
	s.hasLastPushedSeq = true

	pts := time.Duration(s.frameCount) * s.frameDuration
	out := frame.WithTimestamps(pts, pts, s.frameDuration)
	s.frameCount++

	s.framesOut.Add(1)
	if repeated {
		s.framesRepeated.Add(1)
	}

	if s.onOutput != nil {
		s.onOutput(out)
	}
}

// Run drives the render loop at a fixed cadence until ctx is cancelled.
// Ticks are scheduled against an absolute start time (start + n*frameDuration)
// rather than chained relative sleeps, so per-tick scheduling jitter never
// accumulates into long-run drift.
func (s *Synchronizer) Run(ctx context.Context) error {
	if s.frameDuration <= 0 {
		return ctx.Err()
	}

	start := s.clock.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		s.tick()
		n++

		next := start.Add(time.Duration(n) * s.frameDuration)
		delay := next.Sub(s.clock.Now())
		if delay < 0 {
			delay = 0
		}
		timer.Reset(delay)
	}
}
