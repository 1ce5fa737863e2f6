package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/signalkeep/relay/internal/graphcore"
)

// ElasticBufferConfig mirrors spec §4.3's elastic buffer: a minimum fill
// duration before any data is released (jitter-buffering against network
// bursts) and a maximum hold time past which the oldest data is dropped
// rather than grown without bound.
type ElasticBufferConfig struct {
	MinFill time.Duration
	MaxHold time.Duration
}

// DefaultElasticBufferConfig picks the middle of spec §4.3's stated ranges:
// 1s minimum fill, 3s maximum hold.
func DefaultElasticBufferConfig() ElasticBufferConfig {
	return ElasticBufferConfig{MinFill: time.Second, MaxHold: 3 * time.Second}
}

type chunk struct {
	data []byte
	at   time.Time
}

// ElasticBuffer absorbs UDP arrival jitter: packets are appended as they
// arrive, and only released downstream once enough wall-clock time has
// accumulated since the first packet (MinFill). Chunks older than MaxHold
// are dropped rather than accumulated without bound, since the buffer
// itself is configured with no byte/buffer cap otherwise.
type ElasticBuffer struct {
	cfg  ElasticBufferConfig
	log  *slog.Logger
	node *graphcore.Node

	mu        sync.Mutex
	queue     []chunk
	firstSeen time.Time
	filled    bool

	OnData func([]byte)
	now    func() time.Time
}

func NewElasticBuffer(cfg ElasticBufferConfig, log *slog.Logger) *ElasticBuffer {
	if log == nil {
		log = slog.Default()
	}
	n := graphcore.NewNode("elastic-buffer", graphcore.RoleElasticBuffer)
	n.AddEndpoint("sink", graphcore.DirectionSink)
	n.AddEndpoint("src", graphcore.DirectionSource)
	n.SetState(graphcore.NodeStatePlaying)
	b := &ElasticBuffer{cfg: cfg, log: log.With("component", "elastic-buffer"), node: n, now: time.Now}
	b.node.SetQuiesceFunc(b.quiesce)
	return b
}

func (b *ElasticBuffer) Node() *graphcore.Node { return b.node }

// Push appends a received packet and, once MinFill has been observed since
// the first buffered packet, begins emitting packets in arrival order via
// OnData (including the newly pushed one and everything queued).
func (b *ElasticBuffer) Push(data []byte) {
	now := b.now()
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.firstSeen = now
	}
	b.queue = append(b.queue, chunk{data: data, at: now})
	b.dropStaleLocked(now)

	if !b.filled && now.Sub(b.firstSeen) >= b.cfg.MinFill {
		b.filled = true
	}

	var toEmit [][]byte
	if b.filled {
		for _, c := range b.queue {
			toEmit = append(toEmit, c.data)
		}
		b.queue = b.queue[:0]
	}
	b.mu.Unlock()

	if b.OnData == nil {
		return
	}
	for _, d := range toEmit {
		b.OnData(d)
	}
}

func (b *ElasticBuffer) dropStaleLocked(now time.Time) {
	if b.cfg.MaxHold <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.MaxHold)
	i := 0
	for i < len(b.queue) && b.queue[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.queue = b.queue[i:]
	}
}

// Flush resets the buffer's internal running time, as required by the
// rebuild operation (spec §4.7 step 4: "issuing a flush that also resets
// the internal running-time").
func (b *ElasticBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
	b.filled = false
	b.firstSeen = time.Time{}
}

func (b *ElasticBuffer) quiesce(ctx context.Context) error {
	b.Flush()
	return nil
}
