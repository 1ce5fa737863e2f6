// Package synchronizer implements a single-slot "latest only" frame buffer
// on the ingress side and a fixed-rate render loop on the egress side,
// decoupling the output cadence from however irregularly frames actually
// arrive.
package synchronizer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalkeep/relay/internal/media"
)

// FrameSlot holds at most one frame: the most recently stored one, plus the
// wall-clock time it was stored and a monotonic input sequence number
// (in_seq) assigned at store time. Storing a new frame always overwrites
// whatever was there; it never queues.
type FrameSlot struct {
	mu       sync.Mutex
	frame    *media.Frame
	storedAt time.Time

	nextSeq  uint64
	framesIn atomic.Uint64
}

// Store replaces the slot's contents. It assigns the frame's in_seq and
// returns the stamped frame; the caller's original frame is left untouched,
// preserving the rule that a published frame is never mutated afterward.
// Lock hold time is a single pointer swap.
func (s *FrameSlot) Store(f *media.Frame, at time.Time) *media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	stamped := *f
	stamped.Seq = s.nextSeq
	s.frame = &stamped
	s.storedAt = at
	s.framesIn.Add(1)
	return s.frame
}

// Load returns the slot's current frame, the time it was stored, and
// whether anything has ever been stored. It does not clear the slot:
// repeated Load calls between Stores return the same frame, which is what
// lets the render loop repeat the last good frame when nothing new has
// arrived.
func (s *FrameSlot) Load() (*media.Frame, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.storedAt, s.frame != nil
}

// FramesIn returns the total number of frames ever stored; it is
// monotonically non-decreasing.
func (s *FrameSlot) FramesIn() uint64 { return s.framesIn.Load() }
