package media

import "time"

// Frame is a single decoded raw video frame plus the output timestamps that
// own it. Once constructed a Frame is treated as immutable and shared by
// reference: the frame slot stores a pointer, writers replace the pointer
// under lock, and readers copy the pointer under the same lock and then read
// the payload outside the lock. No code may mutate Data after a Frame has
// been published to a slot.
type Frame struct {
	Caps Caps
	Data []byte

	// PTS, DTS and Duration on an output frame are set by the render loop at
	// push time. Upstream frames carry their producer's own values (decoder
	// timestamps through normalize, tick times from the fallback source).
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration

	// Seq is the monotonic input sequence number assigned when a frame is
	// written into the frame slot (in_seq in the spec's vocabulary). It is
	// left zero until FrameSlot.Store assigns it.
	Seq uint64

	Keyframe bool
}

// NewFrame allocates a Frame from a caps descriptor and a pixel buffer. The
// buffer is retained, not copied.
func NewFrame(caps Caps, data []byte, keyframe bool) *Frame {
	return &Frame{Caps: caps, Data: data, Keyframe: keyframe}
}

// WithTimestamps returns a shallow copy of the frame stamped with the given
// presentation time, decode time and duration. The render loop uses this to
// attach output timestamps without mutating the frame shared via the slot
// (another render iteration, or a concurrent reader, may still hold the
// original pointer).
func (f *Frame) WithTimestamps(pts, dts, duration time.Duration) *Frame {
	if f == nil {
		return nil
	}
	clone := *f
	clone.PTS = pts
	clone.DTS = dts
	clone.Duration = duration
	return &clone
}
