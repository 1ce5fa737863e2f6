// Package supervisor implements spec §4.9: a single listener on the graph
// bus that classifies every message, forces the selector to fallback and
// schedules a rebuild on ingest-node errors, and treats every other node's
// errors as fatal. Recovery is always optimistic — one rebuild, never a
// backoff-and-retry loop — and rebuilds are deduplicated so a burst of
// ingest errors during a single bad frame never launches two rebuilds.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/selector"
)

// ingestRoles lists the node roles whose errors are routed to fallback +
// rebuild rather than treated as fatal, per spec §4.9's table.
var ingestRoles = map[graphcore.Role]bool{
	graphcore.RoleUDPReceive:      true,
	graphcore.RoleElasticBuffer:   true,
	graphcore.RoleTSParse:         true,
	graphcore.RoleTSDemux:         true,
	graphcore.RoleDecodeChain:     true,
	graphcore.RoleIngestNormalize: true,
}

// Rebuilder is the narrow view of internal/ingest.Chain the supervisor
// needs: whether a decode chain currently exists, and how to tear down and
// rebuild the dynamic ingest sub-graph.
type Rebuilder interface {
	HasDecoder() bool
	RebuildDynamic(ctx context.Context) error
}

// Receiver is the narrow view of internal/ingest.Chain's static UDP prefix
// the supervisor pauses/resumes around a rebuild (spec §4.7 steps 4/7).
type Receiver interface {
	Pause() error
	Resume() error
}

// Supervisor owns the bus subscription and the single control-thread
// reaction to every message it classifies as actionable.
type Supervisor struct {
	graph    *graphcore.Graph
	bus      *graphcore.Bus
	log      *slog.Logger
	sel      *selector.Selector
	rebuild  Rebuilder
	receiver Receiver

	group singleflight.Group

	onFatal func(error)

	unsubscribe func()
	done        chan struct{}
}

// New creates a Supervisor. onFatal is invoked from the control goroutine
// each time a non-ingest node posts an error; the
// caller (typically main) is expected to begin shutdown in response.
func New(graph *graphcore.Graph, sel *selector.Selector, rebuild Rebuilder, receiver Receiver, onFatal func(error), log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		graph:    graph,
		bus:      graph.Bus(),
		log:      log.With("component", "supervisor"),
		sel:      sel,
		rebuild:  rebuild,
		receiver: receiver,
		onFatal:  onFatal,
	}
}

// Start subscribes to the bus and begins classifying messages in a
// background goroutine, mirroring the single control-thread model of spec
// §5: every reaction below runs serially on this one goroutine.
func (s *Supervisor) Start() {
	ch, unsubscribe := s.bus.Subscribe()
	s.unsubscribe = unsubscribe
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for msg := range ch {
			s.handle(msg)
		}
	}()
}

// Stop unsubscribes from the bus and waits for the classification loop to
// drain.
func (s *Supervisor) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Supervisor) handle(msg graphcore.Message) {
	switch msg.Severity {
	case graphcore.SeverityError:
		s.handleError(msg)
	case graphcore.SeverityWarning:
		s.log.Warn("bus warning", "source", msg.Source, "role", msg.Role, "text", msg.Text)
	case graphcore.SeverityStateChange:
		s.log.Info("bus state change", "source", msg.Source, "text", msg.Text)
	default:
		s.log.Debug("bus info", "source", msg.Source, "text", msg.Text)
	}
}

func (s *Supervisor) handleError(msg graphcore.Message) {
	if !ingestRoles[msg.Role] {
		s.log.Error("fatal error from core node", "source", msg.Source, "role", msg.Role, "error", msg.Err, "text", msg.Text)
		if s.onFatal != nil {
			s.onFatal(fmt.Errorf("supervisor: fatal error from %s: %w", msg.Source, errOrText(msg)))
		}
		return
	}

	s.log.Warn("ingest error, forcing fallback", "source", msg.Source, "role", msg.Role, "error", msg.Err, "text", msg.Text)
	if s.sel != nil {
		if err := s.sel.Activate(selector.SinkID("fallback")); err != nil {
			s.log.Error("failed to force fallback", "error", err)
		}
	}

	if s.rebuild == nil || s.graph.RebuildPending() {
		return
	}
	if !s.rebuild.HasDecoder() {
		return
	}
	s.scheduleRebuild()
}

// scheduleRebuild performs spec §4.7's composite rebuild operation:
// pause receive, rebuild the dynamic ingest sub-graph, resume receive.
// singleflight collapses concurrent callers onto one in-flight rebuild
// (testable property 6, "rebuild idempotence"); graph.TryBeginRebuild is the
// second, authoritative guard the rest of the system relies on.
func (s *Supervisor) scheduleRebuild() {
	if !s.graph.TryBeginRebuild() {
		return
	}
	go func() {
		defer s.graph.EndRebuild()
		_, err, _ := s.group.Do("rebuild", func() (any, error) {
			return nil, s.runRebuild()
		})
		if err != nil {
			s.log.Error("ingest rebuild failed", "error", err)
		} else {
			s.log.Info("ingest rebuild complete")
		}
	}()
}

func (s *Supervisor) runRebuild() error {
	ctx := context.Background()
	if s.receiver != nil {
		if err := s.receiver.Pause(); err != nil {
			return fmt.Errorf("pausing receive: %w", err)
		}
	}
	if err := s.rebuild.RebuildDynamic(ctx); err != nil {
		return fmt.Errorf("rebuilding dynamic ingest: %w", err)
	}
	if s.receiver != nil {
		if err := s.receiver.Resume(); err != nil {
			return fmt.Errorf("resuming receive: %w", err)
		}
	}
	return nil
}

func errOrText(msg graphcore.Message) error {
	if msg.Err != nil {
		return msg.Err
	}
	return fmt.Errorf("%s", msg.Text)
}

// NewGroup returns an errgroup.Group tied to ctx so the control thread (this
// package) and the render thread (internal/synchronizer.Synchronizer.Run)
// can run as the two goroutines spec §5 describes, with either one's
// failure cancelling the shared context and tearing the other down cleanly.
func NewGroup(ctx context.Context) (*errgroup.Group, context.Context) {
	return errgroup.WithContext(ctx)
}
