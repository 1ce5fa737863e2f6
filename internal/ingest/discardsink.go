package ingest

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/signalkeep/relay/internal/graphcore"
)

// DiscardSink is where non-video and unsupported-video demux endpoints are
// attached (spec §4.4: "Non-video endpoints are attached to a discard sink
// to avoid back-pressuring the demux"). Logging every discarded PID would
// flood the log on a stream with many audio/data PIDs, so log lines are
// rate-limited the same way a throttled writer caps byte throughput.
type DiscardSink struct {
	node    *graphcore.Node
	log     *slog.Logger
	limiter *rate.Limiter
}

// NewDiscardSink creates a discard sink that logs at most one line per
// second across all discarded PIDs combined.
func NewDiscardSink(log *slog.Logger) *DiscardSink {
	if log == nil {
		log = slog.Default()
	}
	n := graphcore.NewNode("discard-sink", graphcore.RoleDiscardSink)
	n.AddEndpoint("sink", graphcore.DirectionSink)
	n.SetState(graphcore.NodeStatePlaying)
	return &DiscardSink{
		node:    n,
		log:     log.With("component", "discard-sink"),
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

func (d *DiscardSink) Node() *graphcore.Node { return d.node }

// Discard records one discarded PID, logging only when the rate limiter
// allows it.
func (d *DiscardSink) Discard(pid uint16, reason string) {
	if d.limiter.Allow() {
		d.log.Debug("discarding non-video endpoint", "pid", pid, "reason", reason)
	}
}
