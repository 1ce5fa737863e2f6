// Package ingest implements the upstream half of the relay pipeline: UDP
// receive, elastic buffer, TS parse/demux, a pluggable decode chain, and
// ingest normalize. Everything here is wired and torn down by
// internal/supervisor's rebuild operation.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/signalkeep/relay/internal/graphcore"
)

// UDPReceiveConfig configures the socket node. RecvBufferBytes sets a
// large OS-level receive buffer (8-64 MiB) so bursts of arriving datagrams
// don't get dropped by the kernel before this code can read them.
type UDPReceiveConfig struct {
	Port            int
	RecvBufferBytes int
}

// DefaultUDPReceiveConfig returns the baseline input port and receive buffer size.
func DefaultUDPReceiveConfig() UDPReceiveConfig {
	return UDPReceiveConfig{Port: 5000, RecvBufferBytes: 16 * 1024 * 1024}
}

// UDPReceive reads MPEG-TS datagrams off a UDP socket and forwards each
// payload to OnPacket. It has no notion of elementary streams; that is the
// elastic buffer and TS demux's job downstream.
type UDPReceive struct {
	cfg  UDPReceiveConfig
	log  *slog.Logger
	node *graphcore.Node
	bus  *graphcore.Bus

	conn     *net.UDPConn
	cancel   context.CancelFunc
	done     chan struct{}
	OnPacket func([]byte)
}

// NewUDPReceive creates the node without opening a socket; call Open to
// bind and Start to begin reading.
func NewUDPReceive(cfg UDPReceiveConfig, bus *graphcore.Bus, log *slog.Logger) *UDPReceive {
	if log == nil {
		log = slog.Default()
	}
	n := graphcore.NewNode("udp-receive", graphcore.RoleUDPReceive)
	n.AddEndpoint("src", graphcore.DirectionSource)
	r := &UDPReceive{
		cfg:  cfg,
		log:  log.With("component", "udp-receive"),
		node: n,
		bus:  bus,
	}
	r.node.SetQuiesceFunc(r.quiesce)
	return r
}

func (r *UDPReceive) Node() *graphcore.Node { return r.node }

// Open binds the UDP socket and sets the OS receive buffer size.
func (r *UDPReceive) Open() error {
	addr := &net.UDPAddr{Port: r.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("ingest: udp receive listen on port %d: %w", r.cfg.Port, err)
	}
	if r.cfg.RecvBufferBytes > 0 {
		if err := conn.SetReadBuffer(r.cfg.RecvBufferBytes); err != nil {
			r.log.Warn("failed to set UDP receive buffer size", "requested_bytes", r.cfg.RecvBufferBytes, "error", err)
		}
	}
	r.conn = conn
	return nil
}

// Start begins the read loop in its own goroutine. Packets are delivered to
// OnPacket in order; Start is a no-op if already running.
func (r *UDPReceive) Start() {
	if r.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.node.SetState(graphcore.NodeStatePlaying)

	go func() {
		defer close(r.done)
		buf := make([]byte, 1500)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, _, err := r.conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				r.bus.Post(graphcore.Message{Severity: graphcore.SeverityError, Source: r.node.Name, Role: r.node.Role, Err: err, Text: "udp read error"})
				return
			}
			if n == 0 || r.OnPacket == nil {
				continue
			}
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			r.OnPacket(pkt)
		}
	}()
}

// quiesce stops the read loop and closes the socket; flushing pending
// buffers for a socket just means we stop reading new ones.
func (r *UDPReceive) quiesce(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
	if r.done != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pause stops reading without releasing the node from the graph; used by
// the rebuild operation, which pauses then resumes the same receive node
// rather than tearing it down.
func (r *UDPReceive) Pause() error {
	return r.quiesce(context.Background())
}

// Resume reopens the socket and restarts the read loop after Pause.
func (r *UDPReceive) Resume() error {
	r.done = nil
	r.cancel = nil
	if err := r.Open(); err != nil {
		return err
	}
	r.Start()
	return nil
}
