package media

import (
	"testing"
	"time"
)

func TestNewFrame(t *testing.T) {
	caps := canonicalCaps()
	data := []byte{1, 2, 3}
	f := NewFrame(caps, data, true)
	if !f.Caps.Equal(caps) {
		t.Fatalf("NewFrame: caps not retained")
	}
	if len(f.Data) != 3 || f.Data[0] != 1 {
		t.Fatalf("NewFrame: data not retained")
	}
	if !f.Keyframe {
		t.Fatalf("NewFrame: keyframe flag not retained")
	}
	if f.Seq != 0 || f.PTS != 0 {
		t.Fatalf("NewFrame: Seq/PTS should start zero")
	}
}

func TestFrameWithTimestampsDoesNotMutateOriginal(t *testing.T) {
	orig := NewFrame(canonicalCaps(), []byte{9}, false)
	orig.Seq = 42

	stamped := orig.WithTimestamps(40*time.Millisecond, 40*time.Millisecond, 40*time.Millisecond)

	if orig.PTS != 0 {
		t.Fatalf("WithTimestamps mutated the original frame's PTS")
	}
	if stamped.PTS != 40*time.Millisecond || stamped.DTS != 40*time.Millisecond || stamped.Duration != 40*time.Millisecond {
		t.Fatalf("WithTimestamps did not stamp the clone correctly: %+v", stamped)
	}
	if stamped.Seq != 42 {
		t.Fatalf("WithTimestamps should preserve Seq, got %d", stamped.Seq)
	}
	if &stamped.Data == &orig.Data {
		t.Fatalf("WithTimestamps should return a distinct Frame")
	}
}

func TestFrameWithTimestampsNil(t *testing.T) {
	var f *Frame
	if got := f.WithTimestamps(0, 0, 0); got != nil {
		t.Fatalf("WithTimestamps on nil receiver should return nil, got %+v", got)
	}
}
