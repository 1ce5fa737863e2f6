package graphcore

import (
	"context"
	"fmt"
	"sync"
)

// Role names the processing responsibility a node plays, matching the
// component list in spec §2.
type Role string

const (
	RoleUDPReceive      Role = "udp-receive"
	RoleElasticBuffer   Role = "elastic-buffer"
	RoleTSParse         Role = "ts-parse"
	RoleTSDemux         Role = "ts-demux"
	RoleDecodeChain     Role = "decode-chain"
	RoleIngestNormalize Role = "ingest-normalize"
	RoleFallbackSource  Role = "fallback-source"
	RoleFallbackNorm    Role = "fallback-normalize"
	RoleSelector        Role = "selector"
	RoleSynchronizer    Role = "synchronizer"
	RoleEncoder         Role = "encoder"
	RoleSink            Role = "sink"
	RoleDiscardSink     Role = "discard-sink"
)

// NodeState is the lifecycle state of an individual node.
type NodeState int

const (
	NodeStateNull NodeState = iota
	NodeStateReady
	NodeStatePlaying
	NodeStateQuiesced
)

func (s NodeState) String() string {
	switch s {
	case NodeStateNull:
		return "null"
	case NodeStateReady:
		return "ready"
	case NodeStatePlaying:
		return "playing"
	case NodeStateQuiesced:
		return "quiesced"
	default:
		return "unknown"
	}
}

// QuiesceFunc performs the node-specific work of halting data flow and
// flushing any buffers it owns. It must be idempotent: calling it twice in a
// row must not panic or double-flush.
type QuiesceFunc func(ctx context.Context) error

// Node is a named processing element tracked by the graph. It owns a set of
// endpoints and an optional quiesce hook supplied by whatever concrete
// component (an *ingest.UDPReceiver, a *selector.Selector, ...) the node
// represents.
type Node struct {
	Name string
	Role Role

	mu        sync.Mutex
	state     NodeState
	endpoints map[string]*Endpoint
	quiesce   QuiesceFunc
}

// NewNode creates a node in the null state with no endpoints.
func NewNode(name string, role Role) *Node {
	return &Node{
		Name:      name,
		Role:      role,
		state:     NodeStateNull,
		endpoints: make(map[string]*Endpoint),
	}
}

// State returns the node's current lifecycle state.
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// SetState updates the node's lifecycle state.
func (n *Node) SetState(s NodeState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// SetQuiesceFunc installs the hook Quiesce will invoke.
func (n *Node) SetQuiesceFunc(f QuiesceFunc) {
	n.mu.Lock()
	n.quiesce = f
	n.mu.Unlock()
}

// Quiesce halts the node and flushes its pending buffers by invoking the
// installed QuiesceFunc, then marks the node quiesced. A node with no
// QuiesceFunc installed is trivially quiesced.
func (n *Node) Quiesce(ctx context.Context) error {
	n.mu.Lock()
	f := n.quiesce
	n.mu.Unlock()

	if f != nil {
		if err := f(ctx); err != nil {
			return fmt.Errorf("graphcore: quiesce %s: %w", n.Name, err)
		}
	}
	n.SetState(NodeStateQuiesced)
	return nil
}

// AddEndpoint creates and registers a new static endpoint on the node.
func (n *Node) AddEndpoint(name string, dir Direction) *Endpoint {
	e := &Endpoint{Name: name, Direction: dir, node: n}
	n.mu.Lock()
	n.endpoints[name] = e
	n.mu.Unlock()
	return e
}

// Endpoint looks up a named endpoint on the node.
func (n *Node) Endpoint(name string) (*Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.endpoints[name]
	return e, ok
}

// Endpoints returns a snapshot slice of every endpoint on the node.
func (n *Node) Endpoints() []*Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Endpoint, 0, len(n.endpoints))
	for _, e := range n.endpoints {
		out = append(out, e)
	}
	return out
}

// RemoveEndpoint drops an endpoint from the node's registry. It does not
// unlink the endpoint; callers must Unlink first.
func (n *Node) RemoveEndpoint(name string) {
	n.mu.Lock()
	delete(n.endpoints, name)
	n.mu.Unlock()
}

// Direction is the data direction of an Endpoint.
type Direction int

const (
	DirectionSink Direction = iota
	DirectionSource
)

func (d Direction) String() string {
	if d == DirectionSource {
		return "source"
	}
	return "sink"
}

// Endpoint is a named data port on a Node. Request endpoints (acquired and
// released explicitly, e.g. a selector's input sinks) set Requested to true;
// static endpoints live and die with their node.
type Endpoint struct {
	Name      string
	Direction Direction
	Requested bool

	node *Node // weak reference for bookkeeping only; never used to drive data flow

	mu   sync.Mutex
	peer *Endpoint
}

// Node returns the owning node.
func (e *Endpoint) Node() *Node { return e.node }

// Peer returns the endpoint currently linked to this one, or nil.
func (e *Endpoint) Peer() *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

// Linked reports whether the endpoint currently has a peer.
func (e *Endpoint) Linked() bool {
	return e.Peer() != nil
}

// link establishes a bidirectional peer relationship. Unexported: callers
// must go through Link in mutator.go so linking is always symmetric.
func (e *Endpoint) link(peer *Endpoint) {
	e.mu.Lock()
	e.peer = peer
	e.mu.Unlock()
}

func (e *Endpoint) clearPeer() {
	e.mu.Lock()
	e.peer = nil
	e.mu.Unlock()
}
