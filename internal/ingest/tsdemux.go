package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/signalkeep/relay/internal/graphcore"
)

// TSDemux combines spec §4.3's "TS parse" (timestamp stamping) and "TS
// demux" (program-number wildcard, dynamic per-elementary-stream endpoints)
// into a single node, because mediacommon's mpegts.Reader performs both in
// one pass over the byte stream; there is no seam to split them at without
// re-parsing. It is fed raw MPEG-TS bytes (from the elastic buffer) through
// an io.Pipe and emits demuxed video access units.
type TSDemux struct {
	log  *slog.Logger
	node *graphcore.Node
	bus  *graphcore.Bus
	det  *codecDetector

	reader     *mpegts.Reader
	pipeMu     sync.Mutex
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	mu         sync.Mutex
	videoTrack *mpegts.Track
	videoCodec VideoCodec

	// OnVideoSample delivers one demuxed access unit (Annex-B NAL stream)
	// per call, timestamps in 90kHz MPEG-TS ticks.
	OnVideoSample func(pts, dts int64, data []byte, keyframe bool)
	// OnDiscard is called once per non-video or unsupported-video PID
	// encountered, so the discard sink can log/throttle (spec §4.4: "Non-
	// video endpoints are attached to a discard sink").
	OnDiscard func(pid uint16, reason string)

	initDone chan struct{}
	initErr  error
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewTSDemux creates a demuxer node. Call Start before Write.
func NewTSDemux(bus *graphcore.Bus, log *slog.Logger) *TSDemux {
	if log == nil {
		log = slog.Default()
	}
	n := graphcore.NewNode("ts-demux", graphcore.RoleTSDemux)
	n.AddEndpoint("sink", graphcore.DirectionSink)
	n.AddEndpoint("video", graphcore.DirectionSource)
	d := &TSDemux{
		log:  log.With("component", "ts-demux"),
		node: n,
		bus:  bus,
		det:  newCodecDetector(log),
	}
	d.node.SetQuiesceFunc(d.quiesce)
	return d
}

func (d *TSDemux) Node() *graphcore.Node { return d.node }

func (d *TSDemux) VideoCodec() VideoCodec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.videoCodec
}

// Start begins reading demuxed MPEG-TS from the pipe in a background
// goroutine. It blocks on Reader.Initialize() until PAT/PMT are seen, so
// the video track (and its codec) isn't known until the first access unit
// arrives; callers that need to react to the codec should poll VideoCodec
// or watch OnVideoSample's first call.
func (d *TSDemux) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.ctx = ctx
	d.cancel = cancel
	d.initDone = make(chan struct{})
	pr, pw := io.Pipe()
	d.pipeReader, d.pipeWriter = pr, pw
	d.node.SetState(graphcore.NodeStatePlaying)

	go d.runReader()
}

func (d *TSDemux) runReader() {
	var initOnce sync.Once
	defer func() {
		_ = d.pipeReader.Close()
		initOnce.Do(func() { close(d.initDone) })
	}()

	d.reader = &mpegts.Reader{R: d.pipeReader}
	if err := d.reader.Initialize(); err != nil {
		d.initErr = fmt.Errorf("ingest: initializing ts demux: %w", err)
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
			d.bus.Post(graphcore.Message{Severity: graphcore.SeverityError, Source: d.node.Name, Role: d.node.Role, Err: d.initErr})
		}
		return
	}

	for _, track := range d.reader.Tracks() {
		d.setupTrack(track)
	}
	initOnce.Do(func() { close(d.initDone) })

	d.reader.OnDecodeError(func(err error) {
		d.log.Debug("ts demux decode error", "error", err)
	})

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}
		if err := d.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			d.bus.Post(graphcore.Message{Severity: graphcore.SeverityError, Source: d.node.Name, Role: d.node.Role, Err: err, Text: "ts demux read error"})
			return
		}
	}
}

func (d *TSDemux) setupTrack(track *mpegts.Track) {
	codec, supported := detectVideoCodec(track)
	if !supported {
		reason := "non-video or unsupported codec"
		if track.Codec.IsVideo() {
			reason = "unsupported video codec"
		}
		if d.OnDiscard != nil {
			d.OnDiscard(track.PID, reason)
		}
		return
	}

	d.mu.Lock()
	d.videoTrack = track
	d.videoCodec = codec
	d.mu.Unlock()
	d.det.onDetected(codec, track.PID)

	switch codec {
	case VideoCodecH264:
		d.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return d.handleVideoAU(pts, dts, au, h264.IsRandomAccess)
		})
	case VideoCodecH265:
		d.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return d.handleVideoAU(pts, dts, au, h265.IsRandomAccess)
		})
	}
}

func (d *TSDemux) handleVideoAU(pts, dts int64, au [][]byte, isRandomAccess func([][]byte) bool) error {
	if len(au) == 0 {
		return nil
	}
	keyframe := isRandomAccess(au)
	annexB, err := h264.AnnexB(au).Marshal()
	if err != nil || len(annexB) == 0 {
		return nil
	}
	if d.OnVideoSample != nil {
		d.OnVideoSample(pts, dts, annexB, keyframe)
	}
	return nil
}

// Write feeds raw MPEG-TS bytes (as received from the elastic buffer) into
// the demuxer's pipe.
func (d *TSDemux) Write(data []byte) error {
	d.pipeMu.Lock()
	defer d.pipeMu.Unlock()
	_, err := d.pipeWriter.Write(data)
	if err != nil {
		return fmt.Errorf("ingest: writing to ts demux pipe: %w", err)
	}
	return nil
}

func (d *TSDemux) quiesce(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.pipeWriter != nil {
		d.pipeMu.Lock()
		_ = d.pipeWriter.Close()
		d.pipeMu.Unlock()
	}
	if d.initDone != nil {
		select {
		case <-d.initDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
