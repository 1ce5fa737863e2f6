package media

import (
	"testing"
	"time"
)

func canonicalCaps() Caps {
	return Caps{
		PixelFormat:  PixelFormatNV12,
		Width:        640,
		Height:       480,
		FrameRateNum: 25,
		FrameRateDen: 1,
		Colorimetry:  Colorimetry{Range: "limited", Matrix: "bt709"},
	}
}

func TestParsePixelFormat(t *testing.T) {
	cases := []struct {
		in      string
		want    PixelFormat
		wantErr bool
	}{
		{"I420", PixelFormatI420, false},
		{"i420", PixelFormatI420, false},
		{"NV12", PixelFormatNV12, false},
		{"nv12", PixelFormatNV12, false},
		{"yuyv", PixelFormatUnknown, true},
	}
	for _, c := range cases {
		got, err := ParsePixelFormat(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParsePixelFormat(%q): expected error, got nil", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePixelFormat(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParsePixelFormat(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCapsEqual(t *testing.T) {
	a := canonicalCaps()
	b := canonicalCaps()
	if !a.Equal(b) {
		t.Fatalf("identical caps should be equal")
	}
	b.Width = 1280
	if a.Equal(b) {
		t.Fatalf("differing width must not be equal")
	}
}

func TestCapsValid(t *testing.T) {
	good := canonicalCaps()
	if !good.Valid() {
		t.Fatalf("canonical caps should be valid")
	}
	bad := good
	bad.Width = 0
	if bad.Valid() {
		t.Fatalf("zero width must be invalid")
	}
	bad = good
	bad.FrameRateDen = 0
	if bad.Valid() {
		t.Fatalf("zero frame rate denominator must be invalid")
	}
}

func TestCapsFrameDuration(t *testing.T) {
	c := canonicalCaps()
	want := 40 * time.Millisecond
	if got := c.FrameDuration(); got != want {
		t.Fatalf("FrameDuration() = %v, want %v", got, want)
	}

	zero := Caps{}
	if got := zero.FrameDuration(); got != 0 {
		t.Fatalf("FrameDuration() on invalid caps = %v, want 0", got)
	}
}

func TestCapsPlaneSizesAndBufferSize(t *testing.T) {
	i420 := canonicalCaps()
	i420.PixelFormat = PixelFormatI420
	y, u, v, ok := i420.PlaneSizes()
	if !ok {
		t.Fatalf("expected ok for I420")
	}
	if y != 640*480 || u != v || u != (320*240) {
		t.Fatalf("unexpected I420 plane sizes: y=%d u=%d v=%d", y, u, v)
	}
	if got, want := i420.BufferSize(), y+u+v; got != want {
		t.Fatalf("BufferSize() = %d, want %d", got, want)
	}

	nv12 := canonicalCaps()
	y, u, v, ok = nv12.PlaneSizes()
	if !ok {
		t.Fatalf("expected ok for NV12")
	}
	if v != 0 || u != 320*240*2 {
		t.Fatalf("unexpected NV12 plane sizes: y=%d u=%d v=%d", y, u, v)
	}

	unknown := Caps{Width: 640, Height: 480}
	if _, _, _, ok := unknown.PlaneSizes(); ok {
		t.Fatalf("expected !ok for unknown pixel format")
	}
	if got := unknown.BufferSize(); got != 0 {
		t.Fatalf("BufferSize() on unknown format = %d, want 0", got)
	}
}

func TestCapsString(t *testing.T) {
	c := canonicalCaps()
	got := c.String()
	want := "NV12 640x480 @ 25/1 (limited/bt709)"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
