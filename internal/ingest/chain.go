package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// ChainConfig bundles every sub-stage's configuration needed to assemble
// one instance of the ingest sub-graph: receive → buffer → parse → demux
// → decode → normalize.
type ChainConfig struct {
	UDP       UDPReceiveConfig
	Buffer    ElasticBufferConfig
	Normalize NormalizeConfig
}

// Chain assembles and rebuilds the ingest sub-graph. The static prefix
// (UDP receive, elastic buffer, discard sink) lives for the process
// lifetime; TS demux, the decode chain and ingest normalize are rebuilt by
// RebuildDynamic whenever the upstream codec or track layout changes.
type Chain struct {
	cfg   ChainConfig
	graph *graphcore.Graph
	bus   *graphcore.Bus
	log   *slog.Logger

	Receive *UDPReceive
	Buffer  *ElasticBuffer
	Discard *DiscardSink

	mu        sync.Mutex
	demux     *TSDemux
	decoder   Decoder
	normalize *NormalizeStage

	onFrame func(*media.Frame)
}

// NewChain builds the static prefix and the first instance of the dynamic
// suffix, wiring callbacks end to end, and registers every node with graph.
func NewChain(graph *graphcore.Graph, cfg ChainConfig, log *slog.Logger) (*Chain, error) {
	if log == nil {
		log = slog.Default()
	}
	bus := graph.Bus()
	c := &Chain{cfg: cfg, graph: graph, bus: bus, log: log.With("component", "ingest-chain")}

	c.Receive = NewUDPReceive(cfg.UDP, bus, log)
	c.Buffer = NewElasticBuffer(cfg.Buffer, log)
	c.Discard = NewDiscardSink(log)

	for _, n := range []*graphcore.Node{c.Receive.Node(), c.Buffer.Node(), c.Discard.Node()} {
		if err := graph.AddNode(n); err != nil {
			return nil, fmt.Errorf("ingest: registering static node %s: %w", n.Name, err)
		}
	}

	c.Receive.OnPacket = c.Buffer.Push
	c.Buffer.OnData = c.writeToDemux

	if err := c.buildDynamic(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetOnFrame installs the callback invoked with every normalized frame
// (typically synchronizer.Synchronizer.Ingest, via the selector's ingest
// sink).
func (c *Chain) SetOnFrame(f func(*media.Frame)) {
	c.mu.Lock()
	c.onFrame = f
	if c.normalize != nil {
		c.normalize.SetOnFrame(f)
	}
	c.mu.Unlock()
}

// Start opens the UDP socket and begins reading.
func (c *Chain) Start() error {
	if err := c.Receive.Open(); err != nil {
		return err
	}
	c.Receive.Start()
	return nil
}

func (c *Chain) writeToDemux(data []byte) {
	c.mu.Lock()
	demux := c.demux
	c.mu.Unlock()
	if demux == nil {
		return
	}
	if err := demux.Write(data); err != nil {
		c.log.Debug("ts demux write failed", "error", err)
	}
}

// buildDynamic constructs a fresh TS demux and normalize stage and links
// them (graphcore bookkeeping only; actual sample delivery is the direct
// callback wiring set up here). The decode chain itself is built lazily,
// once the demux reports a video track.
func (c *Chain) buildDynamic() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	demux := NewTSDemux(c.bus, c.log)
	normalize := NewNormalizeStage("ingest-normalize", c.cfg.Normalize, c.log)
	if c.onFrame != nil {
		normalize.SetOnFrame(c.onFrame)
	}

	if err := c.graph.AddNode(demux.Node()); err != nil {
		return fmt.Errorf("ingest: registering ts-demux: %w", err)
	}
	if err := c.graph.AddNode(normalize.Node()); err != nil {
		return fmt.Errorf("ingest: registering normalize: %w", err)
	}
	bufSrc, _ := c.Buffer.Node().Endpoint("src")
	demuxSink, _ := demux.Node().Endpoint("sink")
	if err := graphcore.Link(bufSrc, demuxSink); err != nil {
		return fmt.Errorf("ingest: linking buffer to demux: %w", err)
	}

	demux.OnDiscard = c.Discard.Discard
	demux.OnVideoSample = func(pts, dts int64, data []byte, keyframe bool) {
		c.handleVideoSample(demux, normalize, pts, dts, data, keyframe)
	}
	demux.Start()

	c.demux = demux
	c.normalize = normalize
	return nil
}

// handleVideoSample lazily builds the decode chain on the first video
// sample, and refuses to hot-swap it if the codec changes mid-stream;
// instead it posts a bus error so the supervisor schedules a full rebuild.
func (c *Chain) handleVideoSample(demux *TSDemux, normalize *NormalizeStage, pts, dts int64, data []byte, keyframe bool) {
	codec := demux.VideoCodec()

	c.mu.Lock()
	if demux != c.demux {
		c.mu.Unlock()
		return // sample from a demux instance a rebuild has already superseded
	}
	dec := c.decoder
	if dec == nil {
		var err error
		dec, err = c.buildDecoderLocked(codec, normalize)
		if err != nil {
			c.mu.Unlock()
			c.bus.Post(graphcore.Message{Severity: graphcore.SeverityError, Source: "ingest-chain", Role: graphcore.RoleDecodeChain, Err: err})
			return
		}
	} else if dec.Codec() != codec {
		c.mu.Unlock()
		c.bus.Post(graphcore.Message{
			Severity: graphcore.SeverityError,
			Source:   demux.Node().Name,
			Role:     graphcore.RoleTSDemux,
			Text:     fmt.Sprintf("codec changed from %s to %s mid-stream", dec.Codec(), codec),
		})
		return
	}
	c.mu.Unlock()

	ptsDur := tsTicksToDuration(pts)
	dtsDur := tsTicksToDuration(dts)
	_ = dec.Push(ptsDur, dtsDur, data, keyframe)
}

func (c *Chain) buildDecoderLocked(codec VideoCodec, normalize *NormalizeStage) (Decoder, error) {
	dec := NewPassthroughDecoder(codec, c.cfg.Normalize.OutputCaps, c.log)
	dec.SetOnFrame(normalize.Push)
	if err := c.graph.AddNode(dec.Node()); err != nil {
		return nil, fmt.Errorf("registering decode chain: %w", err)
	}
	demuxVideo, _ := c.demux.Node().Endpoint("video")
	decSink, _ := dec.Node().Endpoint("sink")
	if err := graphcore.Link(demuxVideo, decSink); err != nil {
		return nil, fmt.Errorf("linking demux to decode chain: %w", err)
	}
	decSrc, _ := dec.Node().Endpoint("src")
	normSink, _ := normalize.Node().Endpoint("sink")
	if err := graphcore.Link(decSrc, normSink); err != nil {
		return nil, fmt.Errorf("linking decode chain to normalize: %w", err)
	}
	c.decoder = dec
	return dec, nil
}

func tsTicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * time.Second / 90000
}

// HasDecoder reports whether a decode chain currently exists, used by the
// supervisor to decide whether an ingest error warrants a rebuild (only
// when a decode chain existed and no rebuild is already pending).
func (c *Chain) HasDecoder() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decoder != nil
}

// TeardownDynamic quiesces, unlinks and removes the decode chain and
// normalize stage in reverse dependency order, then the TS demux. It does
// not touch the static prefix.
func (c *Chain) TeardownDynamic(ctx context.Context) error {
	c.mu.Lock()
	normalize, decoder, demux := c.normalize, c.decoder, c.demux
	c.normalize, c.decoder, c.demux = nil, nil, nil
	c.mu.Unlock()

	for _, n := range []*graphcore.Node{normalize.nodeOrNil(), decoderNodeOrNil(decoder), demux.nodeOrNil()} {
		if n == nil {
			continue
		}
		if err := n.Quiesce(ctx); err != nil {
			return fmt.Errorf("ingest: quiescing %s: %w", n.Name, err)
		}
		for _, ep := range n.Endpoints() {
			_ = graphcore.UnlinkPeer(ep)
		}
		if err := graphcore.Remove(c.graph, n); err != nil {
			return fmt.Errorf("ingest: removing %s: %w", n.Name, err)
		}
	}
	return nil
}

// Close quiesces and removes the entire ingest sub-graph, dynamic suffix
// first (TeardownDynamic) and then the static prefix in reverse dependency
// order (discard sink, elastic buffer, UDP receive), for use on process
// shutdown. Unlike TeardownDynamic, the static prefix is not rebuilt
// afterwards.
func (c *Chain) Close(ctx context.Context) error {
	if err := c.TeardownDynamic(ctx); err != nil {
		return err
	}
	for _, n := range []*graphcore.Node{c.Discard.Node(), c.Buffer.Node(), c.Receive.Node()} {
		if err := n.Quiesce(ctx); err != nil {
			return fmt.Errorf("ingest: quiescing %s: %w", n.Name, err)
		}
		for _, ep := range n.Endpoints() {
			_ = graphcore.UnlinkPeer(ep)
		}
		if err := graphcore.Remove(c.graph, n); err != nil {
			return fmt.Errorf("ingest: removing %s: %w", n.Name, err)
		}
	}
	return nil
}

func (n *NormalizeStage) nodeOrNil() *graphcore.Node {
	if n == nil {
		return nil
	}
	return n.Node()
}

func (d *TSDemux) nodeOrNil() *graphcore.Node {
	if d == nil {
		return nil
	}
	return d.Node()
}

func decoderNodeOrNil(d Decoder) *graphcore.Node {
	if d == nil {
		return nil
	}
	return d.Node()
}

// RebuildDynamic tears down the current TS demux/decode/normalize and
// builds fresh instances, relinking buffer → demux. Callers (the
// supervisor) are responsible for forcing fallback and releasing the
// selector sink beforehand, and pausing/resuming UDP receive around this
// call.
func (c *Chain) RebuildDynamic(ctx context.Context) error {
	if err := c.TeardownDynamic(ctx); err != nil {
		return err
	}
	return c.buildDynamic()
}
