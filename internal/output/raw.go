package output

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// RawUDPConfig configures the bare UDP/raw-bitstream output sink.
type RawUDPConfig struct {
	Host string
	Port int
	// MaxDatagram bounds a single UDP payload; frames larger than this are
	// split across consecutive datagrams with no framing of their own,
	// matching the "raw bitstream/UDP" option's lack of any container.
	MaxDatagram int
}

// DefaultRawUDPConfig returns the baseline output host/port.
func DefaultRawUDPConfig() RawUDPConfig {
	return RawUDPConfig{Host: "127.0.0.1", Port: 5004, MaxDatagram: 1400}
}

// RawUDPSink writes each frame's raw bytes to a UDP socket, chunked to
// MaxDatagram. It is the simplest of the output sinks: no payloading, no
// container framing, just bytes on the wire.
type RawUDPSink struct {
	cfg  RawUDPConfig
	log  *slog.Logger
	node *graphcore.Node
	conn *net.UDPConn
}

// NewRawUDPSink dials the configured destination and returns a ready sink.
func NewRawUDPSink(cfg RawUDPConfig, log *slog.Logger) (*RawUDPSink, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("output: dialing raw udp sink %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &RawUDPSink{
		cfg:  cfg,
		log:  defaultLogger(log, "raw-udp-sink"),
		node: newSinkNode("raw-udp-sink"),
		conn: conn,
	}, nil
}

func (s *RawUDPSink) Node() *graphcore.Node { return s.node }

// Write splits f.Data into MaxDatagram-sized chunks and sends each as its
// own UDP datagram.
func (s *RawUDPSink) Write(f *media.Frame) error {
	max := s.cfg.MaxDatagram
	if max <= 0 {
		max = len(f.Data)
	}
	for off := 0; off < len(f.Data); off += max {
		end := off + max
		if end > len(f.Data) {
			end = len(f.Data)
		}
		if _, err := s.conn.Write(f.Data[off:end]); err != nil {
			return fmt.Errorf("output: raw udp write: %w", err)
		}
	}
	return nil
}

func (s *RawUDPSink) Close() error {
	return s.conn.Close()
}
