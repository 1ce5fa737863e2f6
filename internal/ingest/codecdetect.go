package ingest

import (
	"log/slog"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// VideoCodec names a codec family the dynamic decode chain knows how to
// size a decoder for (spec §4.4: "Accept any video family (H.264, H.265,
// MPEG-2/4, VP8/9, AV1, raw)"). This daemon ships concrete support for
// H.264 and H.265 (the two mediacommon demuxes natively); everything else
// is accepted at the demux level but routed to the discard sink with a
// single detection log line, exactly like an unsupported codec in the
// original detector this is grounded on.
type VideoCodec string

const (
	VideoCodecUnknown VideoCodec = ""
	VideoCodecH264    VideoCodec = "h264"
	VideoCodecH265    VideoCodec = "h265"
)

// detectVideoCodec classifies a discovered mpegts track, the same one-shot
// "first occurrence" detection pattern as a codec detector over RTMP
// message types: call once per newly discovered track, not per sample.
func detectVideoCodec(track *mpegts.Track) (codec VideoCodec, supported bool) {
	switch track.Codec.(type) {
	case *mpegts.CodecH264:
		return VideoCodecH264, true
	case *mpegts.CodecH265:
		return VideoCodecH265, true
	default:
		return VideoCodecUnknown, false
	}
}

// codecDetector logs the first successful detection of a video track and
// ignores the rest, mirroring the "update store, log once" shape of a
// one-shot RTMP codec detector.
type codecDetector struct {
	once sync.Once
	log  *slog.Logger
}

func newCodecDetector(log *slog.Logger) *codecDetector {
	return &codecDetector{log: log}
}

func (d *codecDetector) onDetected(codec VideoCodec, pid uint16) {
	d.once.Do(func() {
		if d.log != nil {
			d.log.Info("video codec detected", "codec", string(codec), "pid", pid)
		}
	})
}
