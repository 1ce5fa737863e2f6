// Package media defines the frame and capability vocabulary shared by the
// ingest, fallback, synchronizer, and output packages.
package media

import (
	"fmt"
	"time"
)

// PixelFormat enumerates the raw pixel layouts the canonical output caps may
// use. Only formats the normalize stage can actually produce are listed.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatI420
	PixelFormatNV12
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "unknown"
	}
}

// ParsePixelFormat maps a configuration string to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "I420", "i420":
		return PixelFormatI420, nil
	case "NV12", "nv12":
		return PixelFormatNV12, nil
	default:
		return PixelFormatUnknown, fmt.Errorf("media: unknown pixel format %q", s)
	}
}

// Colorimetry captures the fixed color range and matrix the output converges
// on. It never varies with the input.
type Colorimetry struct {
	Range  string // "limited" or "full"
	Matrix string // e.g. "bt709"
}

// Caps describes the canonical output capabilities: pixel format, dimensions,
// frame rate and colorimetry. Every branch feeding the selector (ingest
// normalize and fallback normalize) must converge on an identical Caps value
// so that activating a different sink never triggers renegotiation.
type Caps struct {
	PixelFormat  PixelFormat
	Width        int
	Height       int
	FrameRateNum int
	FrameRateDen int
	Colorimetry  Colorimetry
}

// Equal reports whether two Caps describe byte-for-byte identical output,
// which is the precondition selector.Selector.Activate relies on to guarantee
// a clean cut with no renegotiation.
func (c Caps) Equal(o Caps) bool {
	return c.PixelFormat == o.PixelFormat &&
		c.Width == o.Width &&
		c.Height == o.Height &&
		c.FrameRateNum == o.FrameRateNum &&
		c.FrameRateDen == o.FrameRateDen &&
		c.Colorimetry == o.Colorimetry
}

// Valid reports whether the Caps describe a usable frame rate and non-zero
// frame dimensions.
func (c Caps) Valid() bool {
	return c.Width > 0 && c.Height > 0 && c.FrameRateNum > 0 && c.FrameRateDen > 0
}

// FrameDuration returns the nominal duration of one frame at this Caps'
// frame rate, e.g. 40ms at 25/1.
func (c Caps) FrameDuration() time.Duration {
	if c.FrameRateNum <= 0 || c.FrameRateDen <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(c.FrameRateDen) / int64(c.FrameRateNum))
}

// PlaneSizes returns the byte size of each plane a raw frame in this Caps'
// pixel format occupies: I420 is three full/half-subsampled planes, NV12 is
// a full Y plane plus one interleaved half-subsampled UV plane (v is 0 and
// unused for NV12). ok is false for an unknown pixel format or non-positive
// dimensions.
func (c Caps) PlaneSizes() (y, u, v int, ok bool) {
	if c.Width <= 0 || c.Height <= 0 {
		return 0, 0, 0, false
	}
	cw, ch := (c.Width+1)/2, (c.Height+1)/2
	y = c.Width * c.Height
	switch c.PixelFormat {
	case PixelFormatI420:
		return y, cw * ch, cw * ch, true
	case PixelFormatNV12:
		return y, cw * ch * 2, 0, true
	default:
		return 0, 0, 0, false
	}
}

// BufferSize returns the total byte size of a raw frame buffer in this
// Caps, or 0 for an unknown pixel format or non-positive dimensions.
func (c Caps) BufferSize() int {
	y, u, v, ok := c.PlaneSizes()
	if !ok {
		return 0
	}
	return y + u + v
}

func (c Caps) String() string {
	return fmt.Sprintf("%s %dx%d @ %d/%d (%s/%s)", c.PixelFormat, c.Width, c.Height,
		c.FrameRateNum, c.FrameRateDen, c.Colorimetry.Range, c.Colorimetry.Matrix)
}
