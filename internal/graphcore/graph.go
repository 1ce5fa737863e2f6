// Package graphcore implements the data model and safety primitives for a
// live media graph: named nodes, named endpoints on those nodes, a bus for
// error/warning/state-change messages, and a set of mutation primitives
// (quiesce, unlink, remove, release) that are the only sanctioned way to
// change the graph's shape while media is flowing.
//
// Unlike a general-purpose dataflow engine, graphcore does not move bytes
// itself — the ingest, fallback, selector and synchronizer packages move
// frames directly over Go channels and function calls. graphcore exists so
// every mutable piece of the pipeline (what exists right now, what state
// it's in, what's linked to what) has one place recorded for the supervisor
// and the mutator to reason about, mirroring the bookkeeping a media
// framework's bin/pad graph would otherwise do for us.
package graphcore

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the overall state of the graph root.
type State int

const (
	StateStopped State = iota
	StateReady
	StatePlaying
	StateFlushing
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateFlushing:
		return "flushing"
	case StateTearingDown:
		return "tearing-down"
	default:
		return "unknown"
	}
}

// Graph is the root owner of all nodes. It tracks overall state, hosts the
// bus, and guards the single "rebuild pending" flag that prevents reentrant
// ingest rebuilds (spec §4.7, §9).
type Graph struct {
	log *slog.Logger

	mu    sync.RWMutex
	name  string
	state State
	nodes map[string]*Node

	bus *Bus

	rebuildPending atomic.Bool
}

// New creates an empty Graph in the stopped state.
func New(name string, log *slog.Logger) *Graph {
	if log == nil {
		log = slog.Default()
	}
	return &Graph{
		log:   log.With("component", "graph", "graph", name),
		name:  name,
		state: StateStopped,
		nodes: make(map[string]*Node),
		bus:   NewBus(),
	}
}

// Bus returns the graph's message bus.
func (g *Graph) Bus() *Bus { return g.bus }

// State returns the current overall state.
func (g *Graph) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// SetState transitions the graph to a new overall state and posts a
// state-change message to the bus, mirroring spec §4.9's "State change of
// the graph root -> Log".
func (g *Graph) SetState(s State) {
	g.mu.Lock()
	prev := g.state
	g.state = s
	g.mu.Unlock()

	if prev == s {
		return
	}
	g.log.Info("graph state changed", "from", prev, "to", s)
	g.bus.Post(Message{
		Severity: SeverityStateChange,
		Source:   g.name,
		Text:     fmt.Sprintf("%s -> %s", prev, s),
		Time:     time.Now(),
	})
}

// AddNode registers a node under its stable name. It is an error to add a
// node whose name is already present.
func (g *Graph) AddNode(n *Node) error {
	if n == nil {
		return fmt.Errorf("graphcore: nil node")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[n.Name]; exists {
		return fmt.Errorf("graphcore: node %q already exists", n.Name)
	}
	g.nodes[n.Name] = n
	return nil
}

// RemoveNode drops a node from the registry and returns it. Callers must
// have already quiesced and unlinked the node (see Remove in mutator.go).
func (g *Graph) RemoveNode(name string) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("graphcore: node %q not found", name)
	}
	delete(g.nodes, name)
	return n, nil
}

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns a snapshot slice of every currently registered node.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// RebuildPending reports whether an ingest rebuild is currently in flight.
func (g *Graph) RebuildPending() bool {
	return g.rebuildPending.Load()
}

// TryBeginRebuild atomically transitions rebuildPending from false to true,
// returning true if this call won the race and should perform the rebuild.
// A second caller observing rebuildPending already true must not start a
// second rebuild (spec testable property 6, "Rebuild idempotence").
func (g *Graph) TryBeginRebuild() bool {
	return g.rebuildPending.CompareAndSwap(false, true)
}

// EndRebuild clears the rebuild-pending flag. Must be called exactly once
// per successful TryBeginRebuild, including on the error path.
func (g *Graph) EndRebuild() {
	g.rebuildPending.Store(false)
}
