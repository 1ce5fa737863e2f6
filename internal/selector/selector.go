// Package selector implements an A/B active-input switch with per-input
// sinks and a single source, where the active sink is swapped atomically
// and with no caps renegotiation.
package selector

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// SinkID names one of the selector's input sinks. This system only ever
// configures two ("ingest" and "fallback"), but the selector itself makes no
// assumption about how many sinks are acquired.
type SinkID string

// sink holds one input's endpoint, its negotiated caps, and (because
// cache-buffers=true) the last frame it pushed, so activating it produces an
// instant frame rather than waiting for the next push.
type sink struct {
	endpoint *graphcore.Endpoint
	caps     media.Caps
	hasCaps  bool
	cached   *media.Frame
}

// Config mirrors the selector element's configuration. SyncStreams must
// stay false: the selector never attempts time-domain sync between sinks,
// because that's the synchronizer's job by construction. CacheBuffers must
// stay true so a switch has something to show immediately.
type Config struct {
	SyncStreams  bool
	CacheBuffers bool
}

// DefaultConfig returns the only configuration this system supports.
func DefaultConfig() Config {
	return Config{SyncStreams: false, CacheBuffers: true}
}

// Selector exposes N sink endpoints and one source. At any moment it
// forwards the active sink's pushed frames downstream via OnFrame.
type Selector struct {
	log    *slog.Logger
	cfg    Config
	node   *graphcore.Node
	source *graphcore.Endpoint

	mu     sync.RWMutex
	sinks  map[SinkID]*sink
	active SinkID

	onFrame    func(*media.Frame)
	onActivate func(SinkID)
}

// New creates a Selector with no sinks and no active selection. Call
// AcquireSink for each input before Activate.
func New(cfg Config, log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	n := graphcore.NewNode("selector", graphcore.RoleSelector)
	s := &Selector{
		log:    log.With("component", "selector"),
		cfg:    cfg,
		node:   n,
		source: n.AddEndpoint("src", graphcore.DirectionSource),
		sinks:  make(map[SinkID]*sink),
	}
	n.SetState(graphcore.NodeStatePlaying)
	return s
}

// Node returns the graphcore node backing this selector, for registration
// with the graph.
func (s *Selector) Node() *graphcore.Node { return s.node }

// SetOnFrame installs the callback invoked with every frame forwarded from
// the active sink. Typically wired directly to the synchronizer's ingress
// entry point (synchronizer.Synchronizer.Ingest).
func (s *Selector) SetOnFrame(f func(*media.Frame)) {
	s.mu.Lock()
	s.onFrame = f
	s.mu.Unlock()
}

// SetOnActivate installs a callback invoked whenever Activate changes the
// active selection. Used by the watchdog to know when its own forced
// transitions have actually taken effect and by metrics to count
// transitions.
func (s *Selector) SetOnActivate(f func(SinkID)) {
	s.mu.Lock()
	s.onActivate = f
	s.mu.Unlock()
}

// AcquireSink adds a new input sink with the given caps and returns its
// endpoint. The first sink acquired establishes the baseline caps that every
// subsequent sink (and every future Activate) must match exactly.
func (s *Selector) AcquireSink(id SinkID, caps media.Caps) (*graphcore.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sinks[id]; exists {
		return nil, fmt.Errorf("selector: sink %q already acquired", id)
	}
	for other, sk := range s.sinks {
		if sk.hasCaps && !sk.caps.Equal(caps) {
			return nil, fmt.Errorf("selector: sink %q caps %s do not match existing sink %q caps %s", id, caps, other, sk.caps)
		}
	}

	ep := s.node.AddEndpoint(string(id), graphcore.DirectionSink)
	ep.Requested = true
	s.sinks[id] = &sink{endpoint: ep, caps: caps, hasCaps: true}

	if s.active == "" {
		s.active = id
	}
	return ep, nil
}

// ReleaseSink implements graphcore.EndpointOwner-adjacent release semantics
// by sink ID. Releasing the active sink is an error unless another sink is
// activated first.
func (s *Selector) ReleaseSink(id SinkID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(id)
}

func (s *Selector) releaseLocked(id SinkID) error {
	sk, ok := s.sinks[id]
	if !ok {
		return fmt.Errorf("selector: sink %q not found", id)
	}
	if s.active == id {
		return fmt.Errorf("selector: cannot release active sink %q; activate another sink first", id)
	}
	_ = graphcore.UnlinkPeer(sk.endpoint)
	s.node.RemoveEndpoint(string(id))
	delete(s.sinks, id)
	return nil
}

// ReleaseEndpoint implements graphcore.EndpointOwner so graphcore.Release
// can free a selector sink generically. Releasing an endpoint that is no
// longer acquired (already released, or replaced by a newer sink of the same
// name) is a no-op.
func (s *Selector) ReleaseEndpoint(e *graphcore.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := SinkID(e.Name)
	if sk, ok := s.sinks[id]; !ok || sk.endpoint != e {
		return nil
	}
	return s.releaseLocked(id)
}

// ReleaseAll releases every acquired sink, including the currently active
// one, bypassing releaseLocked's "activate another sink first" guard. It
// is for process shutdown only (spec §7 S6: "all request endpoints
// released"), where there is no other sink left to make active.
func (s *Selector) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sk := range s.sinks {
		_ = graphcore.UnlinkPeer(sk.endpoint)
		s.node.RemoveEndpoint(string(id))
		delete(s.sinks, id)
	}
	s.active = ""
}

// Active returns the currently active sink ID, or "" if none has been
// acquired yet.
func (s *Selector) Active() SinkID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Activate atomically selects id as the active sink. If id's caps differ
// from the already-established baseline, Activate rejects the switch and
// keeps the current selection. Because both branches are normalized to the
// canonical output caps by construction, this should never actually trigger
// outside of a misconfiguration.
func (s *Selector) Activate(id SinkID) error {
	s.mu.Lock()

	sk, ok := s.sinks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("selector: sink %q not acquired", id)
	}
	if baseline, ok := s.baselineCapsLocked(); ok && sk.hasCaps && !sk.caps.Equal(baseline) {
		s.mu.Unlock()
		return fmt.Errorf("selector: refusing to activate %q: caps %s differ from baseline %s", id, sk.caps, baseline)
	}

	prev := s.active
	s.active = id
	var cached *media.Frame
	if s.cfg.CacheBuffers {
		cached = sk.cached
	}
	onActivate := s.onActivate
	onFrame := s.onFrame
	s.mu.Unlock()

	if prev != id {
		s.log.Debug("selector activated sink", "from", prev, "to", id)
	}
	if onActivate != nil && prev != id {
		onActivate(id)
	}
	// Forward the cached frame immediately so the switch is instant rather
	// than waiting for the next Push on the newly active sink.
	if cached != nil && onFrame != nil && prev != id {
		onFrame(cached)
	}
	return nil
}

func (s *Selector) baselineCapsLocked() (media.Caps, bool) {
	for _, sk := range s.sinks {
		if sk.hasCaps {
			return sk.caps, true
		}
	}
	return media.Caps{}, false
}

// Push delivers a frame from sink id. If id is currently active the frame is
// forwarded downstream via OnFrame; otherwise it is only cached (so a future
// Activate has something to show instantly).
func (s *Selector) Push(id SinkID, frame *media.Frame) error {
	s.mu.Lock()
	sk, ok := s.sinks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("selector: sink %q not acquired", id)
	}
	if s.cfg.CacheBuffers {
		sk.cached = frame
	}
	isActive := s.active == id
	onFrame := s.onFrame
	s.mu.Unlock()

	if isActive && onFrame != nil {
		onFrame(frame)
	}
	return nil
}
