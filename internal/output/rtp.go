package output

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/rtp"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// RTPConfig configures the RTP/UDP sink: codec-specific payloading with a
// default MTU of 1200-1400 bytes. The concrete codec-specific payloader is
// an external collaborator; this sink provides the generic fragmentation
// and header bookkeeping every payloader needs, defaulting to a flat
// MTU-sized split with no payload-format-specific framing, suitable for a
// raw or already-paylodable bitstream.
type RTPConfig struct {
	Host           string
	Port           int
	MTU            int
	PayloadType    uint8
	SSRC           uint32
	ClockRate      uint32
}

// DefaultRTPConfig picks a dynamic payload type and a conservative MTU.
func DefaultRTPConfig() RTPConfig {
	return RTPConfig{Host: "127.0.0.1", Port: 5004, MTU: 1200, PayloadType: 96, SSRC: 0x52454c59, ClockRate: 90000}
}

// RTPSink packetizes each frame into consecutive RTP packets, marking the
// last packet of a frame so a receiver can reassemble frame boundaries
// without inspecting the payload itself.
type RTPSink struct {
	cfg  RTPConfig
	log  *slog.Logger
	node *graphcore.Node
	conn *net.UDPConn
	seq  uint16
}

// NewRTPSink dials the destination and returns a ready sink.
func NewRTPSink(cfg RTPConfig, log *slog.Logger) (*RTPSink, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("output: dialing rtp sink %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &RTPSink{
		cfg:  cfg,
		log:  defaultLogger(log, "rtp-sink"),
		node: newSinkNode("rtp-sink"),
		conn: conn,
	}, nil
}

func (s *RTPSink) Node() *graphcore.Node { return s.node }

// Write fragments f.Data across one or more RTP packets stamped with a
// 90kHz timestamp derived from f.PTS, marking the final fragment's marker
// bit per RFC 3550 §5.1.
func (s *RTPSink) Write(f *media.Frame) error {
	mtu := s.cfg.MTU
	if mtu <= 0 {
		mtu = 1200
	}
	ts := uint32(f.PTS.Seconds() * float64(s.cfg.ClockRate))

	data := f.Data
	if len(data) == 0 {
		return nil
	}
	for off := 0; off < len(data); off += mtu {
		end := off + mtu
		last := end >= len(data)
		if end > len(data) {
			end = len(data)
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         last,
				PayloadType:    s.cfg.PayloadType,
				SequenceNumber: s.seq,
				Timestamp:      ts,
				SSRC:           s.cfg.SSRC,
			},
			Payload: data[off:end],
		}
		s.seq++

		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("output: marshaling rtp packet: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			return fmt.Errorf("output: rtp write: %w", err)
		}
	}
	return nil
}

func (s *RTPSink) Close() error {
	return s.conn.Close()
}
