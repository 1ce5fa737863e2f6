// Package fallback implements the always-running fallback source: a test
// card stamped with a configurable "no signal" overlay, pushed at the
// canonical output frame rate so the synchronizer always has a recent
// fallback frame available, plus a pre-allocated frame for substitution
// when the frame slot itself goes stale.
package fallback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// Config carries the fallback source's fixed output caps and overlay text.
type Config struct {
	Caps         media.Caps
	OverlayText  string
	TickInterval time.Duration
}

// DefaultConfig derives a tick interval from caps' frame rate and uses the
// stock "NO SIGNAL" overlay text.
func DefaultConfig(caps media.Caps) Config {
	return Config{
		Caps:         caps,
		OverlayText:  "NO SIGNAL",
		TickInterval: caps.FrameDuration(),
	}
}

// Clock abstracts time.Now so tests can drive Source without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Source is the fallback branch's root node: it owns one pre-rendered test
// card frame and repeatedly pushes freshly-stamped copies of it downstream
// at caps' frame rate, the same way the ingest branch's UDP receive pushes
// live packets. It never stops, even while ingest is active, so it is always
// ready the instant the selector or synchronizer needs a substitute frame.
type Source struct {
	cfg   Config
	log   *slog.Logger
	clock Clock
	node  *graphcore.Node

	mu       sync.Mutex
	template *media.Frame
	onFrame  func(*media.Frame)

	stop func()
}

// New renders the test card once and returns a Source ready to Start.
func New(cfg Config, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	n := graphcore.NewNode("fallback-source", graphcore.RoleFallbackSource)
	n.AddEndpoint("src", graphcore.DirectionSource)
	n.SetState(graphcore.NodeStateReady)

	s := &Source{
		cfg:      cfg,
		log:      log.With("component", "fallback-source"),
		clock:    realClock{},
		node:     n,
		template: renderTestCard(cfg.Caps, cfg.OverlayText),
	}
	n.SetQuiesceFunc(s.quiesce)
	return s
}

// quiesce halts the tick loop so Node().Quiesce can bring the fallback
// source to a stopped state on shutdown. Idempotent, like Stop.
func (s *Source) quiesce(ctx context.Context) error {
	s.Stop()
	return nil
}

func (s *Source) Node() *graphcore.Node { return s.node }

// WithClock overrides the clock, for tests.
func (s *Source) WithClock(c Clock) *Source {
	s.clock = c
	return s
}

// SetOnFrame installs the callback invoked with every freshly-stamped test
// card copy (typically the fallback normalize stage's Push).
func (s *Source) SetOnFrame(f func(*media.Frame)) {
	s.mu.Lock()
	s.onFrame = f
	s.mu.Unlock()
}

// FallbackFrame returns the pre-rendered template frame, unstamped. Callers
// (typically synchronizer.Synchronizer.SetFallbackFrame) use this directly
// as the frame-slot substitute once the cached frame exceeds the no-signal
// timeout, independent of whatever rate this Source itself is ticking at.
func (s *Source) FallbackFrame() *media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.template
}

// Start begins pushing timestamped copies of the template frame at
// cfg.TickInterval. It mirrors watchdog.Watchdog.Start's ticker loop.
func (s *Source) Start() {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = 40 * time.Millisecond
	}
	tk := time.NewTicker(interval)
	stopCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer func() {
			tk.Stop()
			close(done)
		}()
		var frameCount int64
		for {
			select {
			case <-stopCh:
				return
			case <-tk.C:
				s.push(frameCount)
				frameCount++
			}
		}
	}()

	var once sync.Once
	s.stop = func() {
		once.Do(func() {
			close(stopCh)
			<-done
		})
	}
	s.node.SetState(graphcore.NodeStatePlaying)
}

func (s *Source) push(frameCount int64) {
	s.mu.Lock()
	template := s.template
	onFrame := s.onFrame
	s.mu.Unlock()

	if onFrame == nil || template == nil {
		return
	}
	pts := time.Duration(frameCount) * s.cfg.TickInterval
	onFrame(template.WithTimestamps(pts, pts, s.cfg.TickInterval))
}

// Stop halts the tick loop. Safe to call multiple times.
func (s *Source) Stop() {
	if s.stop != nil {
		s.stop()
	}
}
