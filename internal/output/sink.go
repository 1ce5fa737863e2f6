// Package output implements the egress side of the relay: a Sink interface
// with one concrete implementation per supported container (RTP/UDP,
// MPEG-TS/UDP, raw/UDP, file, shared-memory socket), all fed by the same
// stream of timestamped raw frames out of the synchronizer's render loop.
// The concrete choice of output encoder is an external collaborator; every
// sink here carries the frame's raw bytes as-is, codec-specific
// packetization (RTP, MPEG-TS) is layered on top without re-encoding.
package output

import (
	"log/slog"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// Sink receives one timestamped frame at a time from the render loop and is
// responsible for getting its bytes out over whatever transport it wraps.
// Write must not block longer than it takes to hand the frame to the OS
// (a UDP socket, a file, a listening unix socket); a slow Sink would stall
// the render loop and defeat the entire point of the frame slot.
type Sink interface {
	Node() *graphcore.Node
	Write(f *media.Frame) error
	Close() error
}

func newSinkNode(name string) *graphcore.Node {
	n := graphcore.NewNode(name, graphcore.RoleSink)
	n.AddEndpoint("sink", graphcore.DirectionSink)
	n.SetState(graphcore.NodeStatePlaying)
	return n
}

func defaultLogger(log *slog.Logger, component string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With("component", component)
}
