package ingest

import (
	"log/slog"
	"sync"
	"time"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// NormalizeConfig configures the stage described in spec §4.5: convert,
// scale, re-rate and caps-filter decoded frames down to the canonical
// output caps, through a short leaky queue.
type NormalizeConfig struct {
	OutputCaps    media.Caps
	MaxQueueDepth int // spec: "≤ 2 buffers, leaky on overflow"
}

// DefaultNormalizeConfig applies the spec's stated queue depth; callers
// must still set OutputCaps.
func DefaultNormalizeConfig(caps media.Caps) NormalizeConfig {
	return NormalizeConfig{OutputCaps: caps, MaxQueueDepth: 2}
}

// NormalizeStage converts/scales/re-rates frames from whatever caps the
// decode chain or fallback source produced to the canonical output caps.
// It is used identically by both the ingest branch and the fallback branch
// (spec §4.2: "followed by the same normalize stage as ingest"), which is
// why it takes no assumption about its upstream beyond media.Frame/Caps.
type NormalizeStage struct {
	cfg  NormalizeConfig
	node *graphcore.Node
	log  *slog.Logger

	mu          sync.Mutex
	haveFirst   bool
	lastPTS     time.Duration
	queueDepth  int // accounting only; delivery is synchronous (see Push doc)
	onFrame     func(*media.Frame)
}

// NewNormalizeStage creates a normalize node. name distinguishes the
// ingest-side instance from the fallback-side instance in logs/bus
// messages (both use graphcore.RoleIngestNormalize: the role describes the
// function, not which branch it's wired to).
func NewNormalizeStage(name string, cfg NormalizeConfig, log *slog.Logger) *NormalizeStage {
	if log == nil {
		log = slog.Default()
	}
	n := graphcore.NewNode(name, graphcore.RoleIngestNormalize)
	n.AddEndpoint("sink", graphcore.DirectionSink)
	n.AddEndpoint("src", graphcore.DirectionSource)
	n.SetState(graphcore.NodeStatePlaying)
	return &NormalizeStage{cfg: cfg, node: n, log: log.With("component", "normalize", "instance", name)}
}

func (s *NormalizeStage) Node() *graphcore.Node { return s.node }

func (s *NormalizeStage) SetOnFrame(f func(*media.Frame)) { s.onFrame = f }

// Push runs one frame through convert/scale, the drop-only rate adapter,
// and the caps filter, then forwards it (leaky-queue accounting is kept for
// observability; delivery itself is synchronous because the only consumer
// is a single-slot pointer store downstream, which never blocks, so a real
// blocking queue has nothing to absorb).
func (s *NormalizeStage) Push(f *media.Frame) {
	converted := s.convertScale(f)

	s.mu.Lock()
	emit := s.rateAdaptLocked(converted)
	if emit {
		s.queueDepth++
		if s.queueDepth > s.cfg.MaxQueueDepth {
			s.queueDepth = s.cfg.MaxQueueDepth // leaky: oldest accounting entry dropped
		}
	}
	onFrame := s.onFrame
	s.mu.Unlock()

	if emit && onFrame != nil {
		onFrame(converted)
	}
}

// rateAdaptLocked implements "drop-only (never duplicate) and
// skip-to-first-frame": the very first frame always passes immediately
// (no initial pad waiting for a reference clock), and later frames are
// dropped only if they arrive closer together than the target frame
// interval; a slow source is never padded with duplicates here (that's the
// synchronizer's repeat-on-starvation job, not normalize's).
func (s *NormalizeStage) rateAdaptLocked(f *media.Frame) bool {
	if !s.haveFirst {
		s.haveFirst = true
		s.lastPTS = f.PTS
		return true
	}
	min := s.cfg.OutputCaps.FrameDuration()
	if min > 0 && f.PTS-s.lastPTS < min {
		return false
	}
	s.lastPTS = f.PTS
	return true
}

// convertScale rewrites f to the canonical output caps. When dimensions
// and pixel format already match, it's a cheap caps-only rewrite; otherwise
// it nearest-neighbor resamples the planar buffer.
func (s *NormalizeStage) convertScale(f *media.Frame) *media.Frame {
	out := f.WithTimestamps(f.PTS, f.DTS, s.cfg.OutputCaps.FrameDuration())
	target := s.cfg.OutputCaps
	if f.Caps.Equal(target) {
		out.Caps = target
		return out
	}
	out.Data = scalePlanar(f.Data, f.Caps, target)
	out.Caps = target
	return out
}
