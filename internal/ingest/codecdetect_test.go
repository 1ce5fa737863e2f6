package ingest

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

func TestDetectVideoCodecH264(t *testing.T) {
	track := &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
	codec, ok := detectVideoCodec(track)
	if !ok || codec != VideoCodecH264 {
		t.Fatalf("expected H.264 detected as supported, got %q ok=%v", codec, ok)
	}
}

func TestDetectVideoCodecH265(t *testing.T) {
	track := &mpegts.Track{PID: 257, Codec: &mpegts.CodecH265{}}
	codec, ok := detectVideoCodec(track)
	if !ok || codec != VideoCodecH265 {
		t.Fatalf("expected H.265 detected as supported, got %q ok=%v", codec, ok)
	}
}

func TestDetectVideoCodecUnsupported(t *testing.T) {
	track := &mpegts.Track{PID: 258, Codec: &mpegts.CodecMPEG4Audio{}}
	_, ok := detectVideoCodec(track)
	if ok {
		t.Fatalf("expected audio track to be reported as unsupported by the video detector")
	}
}

func TestCodecDetectorLogsOnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	d := newCodecDetector(slog.New(slog.NewTextHandler(&buf, nil)))
	d.onDetected(VideoCodecH264, 256)
	d.onDetected(VideoCodecH264, 256) // Once guards the second call
	if n := strings.Count(buf.String(), "video codec detected"); n != 1 {
		t.Fatalf("expected exactly one detection log line, got %d:\n%s", n, buf.String())
	}
}
