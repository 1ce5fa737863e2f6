package graphcore

import (
	"context"
	"fmt"
)

// This file implements the four mutation primitives from spec §4.7. Each is
// idempotent and failure-safe; the composite "rebuild" operation is built
// from them by internal/supervisor, which also owns the requirement that all
// of these only ever run on the control goroutine.

// Link establishes a bidirectional peer relationship between a source
// endpoint and a sink endpoint. It is an error to link two endpoints that
// already have a peer.
func Link(source, sink *Endpoint) error {
	if source == nil || sink == nil {
		return fmt.Errorf("graphcore: cannot link nil endpoint")
	}
	if source.Direction != DirectionSource {
		return fmt.Errorf("graphcore: %s is not a source endpoint", source.Name)
	}
	if sink.Direction != DirectionSink {
		return fmt.Errorf("graphcore: %s is not a sink endpoint", sink.Name)
	}
	if source.Linked() {
		return fmt.Errorf("graphcore: %s already linked", source.Name)
	}
	if sink.Linked() {
		return fmt.Errorf("graphcore: %s already linked", sink.Name)
	}
	source.link(sink)
	sink.link(source)
	return nil
}

// Unlink severs the edge between two linked endpoints. The endpoints
// themselves remain valid (spec: "pad endpoints remain"). Unlink is
// idempotent: unlinking two endpoints that are already unlinked from each
// other is a no-op, not an error.
func Unlink(a, b *Endpoint) error {
	if a == nil || b == nil {
		return fmt.Errorf("graphcore: cannot unlink nil endpoint")
	}
	if a.Peer() != b {
		return nil
	}
	a.clearPeer()
	b.clearPeer()
	return nil
}

// UnlinkPeer severs whatever is currently linked to e, if anything.
// Idempotent.
func UnlinkPeer(e *Endpoint) error {
	if e == nil {
		return fmt.Errorf("graphcore: cannot unlink nil endpoint")
	}
	peer := e.Peer()
	if peer == nil {
		return nil
	}
	return Unlink(e, peer)
}

// Quiesce brings a node to a halted state, flushing its pending buffers.
// Precondition: the node exists (always true for a *Node the caller holds).
func Quiesce(ctx context.Context, n *Node) error {
	if n == nil {
		return fmt.Errorf("graphcore: cannot quiesce nil node")
	}
	return n.Quiesce(ctx)
}

// Remove detaches a node from the graph. Precondition: the node must already
// be quiesced and have no linked endpoints; Remove returns an error instead
// of silently tearing down a live node out from under the pipeline. Removing
// a node that g no longer holds (already removed, or replaced by a new node
// of the same name) is a no-op.
func Remove(g *Graph, n *Node) error {
	if g == nil || n == nil {
		return fmt.Errorf("graphcore: cannot remove nil graph or node")
	}
	if n.State() != NodeStateQuiesced {
		return fmt.Errorf("graphcore: node %s must be quiesced before removal (state=%s)", n.Name, n.State())
	}
	for _, e := range n.Endpoints() {
		if e.Linked() {
			return fmt.Errorf("graphcore: node %s has linked endpoint %s; unlink before removal", n.Name, e.Name)
		}
	}
	if cur, ok := g.Node(n.Name); !ok || cur != n {
		return nil
	}
	_, err := g.RemoveNode(n.Name)
	return err
}

// EndpointOwner is implemented by anything that hands out request-type
// endpoints (the selector is the only such owner in this system) so Release
// can return them generically.
type EndpointOwner interface {
	ReleaseEndpoint(e *Endpoint) error
}

// Release frees a request-type endpoint back to its owner. Precondition:
// the endpoint belongs to owner. Orphaned request endpoints (acquired but
// never released) are a bug per spec's invariants; callers that acquire an
// endpoint from a selector must always pair it with a Release, typically via
// defer.
func Release(owner EndpointOwner, e *Endpoint) error {
	if owner == nil || e == nil {
		return fmt.Errorf("graphcore: cannot release nil owner or endpoint")
	}
	if !e.Requested {
		return fmt.Errorf("graphcore: endpoint %s is not a request endpoint", e.Name)
	}
	return owner.ReleaseEndpoint(e)
}
