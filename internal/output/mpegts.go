package output

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// MPEGTSConfig configures the MPEG-TS/UDP sink, the default transport for
// broadcast output.
type MPEGTSConfig struct {
	Host string
	Port int
	// Codec selects which mediacommon track type frames are wrapped in.
	// This sink performs no encoding of its own; Codec only governs which
	// PMT stream type downstream MPEG-TS consumers see, the payload itself
	// is whatever bytes reach this sink.
	Codec VideoCodec
}

// DefaultMPEGTSConfig mirrors the raw UDP sink's defaults.
func DefaultMPEGTSConfig() MPEGTSConfig {
	return MPEGTSConfig{Host: "127.0.0.1", Port: 5004, Codec: VideoCodecH264}
}

// VideoCodec names the MPEG-TS PMT stream type this sink advertises. It
// mirrors internal/ingest's codec enum without importing that package,
// since the two sides of the pipeline are decoupled by the frame slot.
type VideoCodec int

const (
	VideoCodecH264 VideoCodec = iota
	VideoCodecH265
)

// MPEGTSSink muxes frames into an MPEG-TS stream over UDP using the same
// mediacommon library the ingest side demuxes with, in the opposite
// direction.
type MPEGTSSink struct {
	cfg    MPEGTSConfig
	log    *slog.Logger
	node   *graphcore.Node
	conn   *net.UDPConn
	writer *mpegts.Writer
	track  *mpegts.Track
}

// NewMPEGTSSink dials the destination and initializes the mux with a single
// video track.
func NewMPEGTSSink(cfg MPEGTSConfig, log *slog.Logger) (*MPEGTSSink, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("output: dialing mpeg-ts sink %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	var track *mpegts.Track
	switch cfg.Codec {
	case VideoCodecH265:
		track = &mpegts.Track{Codec: &mpegts.CodecH265{}}
	default:
		track = &mpegts.Track{Codec: &mpegts.CodecH264{}}
	}

	w := &mpegts.Writer{W: conn, Tracks: []*mpegts.Track{track}}
	if err := w.Initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("output: initializing mpeg-ts writer: %w", err)
	}

	return &MPEGTSSink{
		cfg:    cfg,
		log:    defaultLogger(log, "mpegts-sink"),
		node:   newSinkNode("mpegts-sink"),
		conn:   conn,
		writer: w,
		track:  track,
	}, nil
}

func (s *MPEGTSSink) Node() *graphcore.Node { return s.node }

// Write presents f's bytes to the mux as a single access unit, stamping 90kHz
// PTS/DTS converted from the frame's output timestamps.
func (s *MPEGTSSink) Write(f *media.Frame) error {
	pts := durationToTSTicks(f.PTS)
	dts := durationToTSTicks(f.DTS)
	au := [][]byte{f.Data}

	var err error
	switch s.cfg.Codec {
	case VideoCodecH265:
		err = s.writer.WriteH265(s.track, pts, dts, au)
	default:
		err = s.writer.WriteH264(s.track, pts, dts, au)
	}
	if err != nil {
		return fmt.Errorf("output: mpeg-ts write: %w", err)
	}
	return nil
}

func (s *MPEGTSSink) Close() error {
	return s.conn.Close()
}

func durationToTSTicks(d time.Duration) int64 {
	return int64(d) * 90000 / int64(time.Second)
}
