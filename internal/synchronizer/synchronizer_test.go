package synchronizer

import (
	"context"
	"testing"
	"time"

	"github.com/signalkeep/relay/internal/media"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testCaps() media.Caps {
	return media.Caps{
		PixelFormat:  media.PixelFormatI420,
		Width:        640,
		Height:       480,
		FrameRateNum: 25,
		FrameRateDen: 1,
		Colorimetry:  media.Colorimetry{Range: "limited", Matrix: "bt709"},
	}
}

func TestFrameSlotLatestOnlyAssignsIncreasingSeq(t *testing.T) {
	var slot FrameSlot
	if _, _, ok := slot.Load(); ok {
		t.Fatalf("expected empty slot to report no frame")
	}
	now := time.Unix(1700000000, 0)
	f1 := slot.Store(media.NewFrame(testCaps(), []byte{1}, false), now)
	f2 := slot.Store(media.NewFrame(testCaps(), []byte{2}, false), now.Add(time.Millisecond))

	if f1.Seq != 1 || f2.Seq != 2 {
		t.Fatalf("expected increasing in_seq, got %d then %d", f1.Seq, f2.Seq)
	}
	got, _, ok := slot.Load()
	if !ok || got != f2 {
		t.Fatalf("expected Store to overwrite, not queue")
	}
	if slot.FramesIn() != 2 {
		t.Fatalf("expected FramesIn=2, got %d", slot.FramesIn())
	}
}

func newTestSynchronizer() (*Synchronizer, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := New(testCaps(), nil).WithClock(clock)
	return s, clock
}

func TestTickUsesFallbackWhenSlotEmpty(t *testing.T) {
	s, _ := newTestSynchronizer()
	fallback := media.NewFrame(testCaps(), []byte{0xFF}, true)
	s.SetFallbackFrame(fallback)

	var outputs []*media.Frame
	s.SetOnOutput(func(f *media.Frame) { outputs = append(outputs, f) })

	s.tick()
	if len(outputs) != 1 || outputs[0].Data[0] != 0xFF {
		t.Fatalf("expected the fallback frame when the slot is empty, got %+v", outputs)
	}
}

func TestTickProducesNoOutputWithoutFallback(t *testing.T) {
	s, _ := newTestSynchronizer()
	var calls int
	s.SetOnOutput(func(*media.Frame) { calls++ })
	s.tick()
	if calls != 0 {
		t.Fatalf("expected no output when neither a live frame nor a fallback frame exists")
	}
}

func TestTickDetectsRepeatedFrame(t *testing.T) {
	s, clock := newTestSynchronizer()
	var outputs []*media.Frame
	s.SetOnOutput(func(f *media.Frame) { outputs = append(outputs, f) })

	s.Ingest(media.NewFrame(testCaps(), []byte{1}, false))

	s.tick() // fresh frame
	clock.advance(10 * time.Millisecond)
	s.tick() // same frame still in the slot: a repeat
	clock.advance(10 * time.Millisecond)
	s.tick() // still a repeat

	if s.FramesOut() != 3 {
		t.Fatalf("expected 3 output ticks, got %d", s.FramesOut())
	}
	if s.FramesRepeated() != 2 {
		t.Fatalf("expected 2 repeated ticks, got %d", s.FramesRepeated())
	}
	if len(outputs) != 3 {
		t.Fatalf("expected onOutput invoked on every tick, including repeats, got %d", len(outputs))
	}
}

func TestTickFallsBackWhenSlotGoesStale(t *testing.T) {
	s, clock := newTestSynchronizer()
	s.WithNoSignalTimeout(50 * time.Millisecond)
	fallback := media.NewFrame(testCaps(), []byte{0xFF}, true)
	s.SetFallbackFrame(fallback)

	var outputs []*media.Frame
	s.SetOnOutput(func(f *media.Frame) { outputs = append(outputs, f) })

	s.Ingest(media.NewFrame(testCaps(), []byte{1}, false))
	s.tick()
	if outputs[len(outputs)-1].Data[0] != 1 {
		t.Fatalf("expected the live frame while fresh")
	}

	clock.advance(100 * time.Millisecond)
	s.tick()
	if outputs[len(outputs)-1].Data[0] != 0xFF {
		t.Fatalf("expected the fallback frame once the cached frame goes stale, even though nothing reset routing")
	}
}

func TestTickStampsMonotonicPresentationTime(t *testing.T) {
	s, _ := newTestSynchronizer()
	s.Ingest(media.NewFrame(testCaps(), []byte{1}, false))

	var outputs []*media.Frame
	s.SetOnOutput(func(f *media.Frame) { outputs = append(outputs, f) })

	for i := 0; i < 5; i++ {
		s.tick()
	}

	for i, f := range outputs {
		want := time.Duration(i) * s.frameDuration
		if f.PTS != want {
			t.Fatalf("tick %d: expected pts %v, got %v", i, want, f.PTS)
		}
		if f.DTS != f.PTS {
			t.Fatalf("tick %d: expected dts == pts, got dts=%v pts=%v", i, f.DTS, f.PTS)
		}
		if i > 0 && f.PTS <= outputs[i-1].PTS {
			t.Fatalf("tick %d: expected strictly increasing pts", i)
		}
	}
}

func TestRunProducesRoughlyExpectedTickCount(t *testing.T) {
	caps := testCaps()
	caps.FrameRateNum = 100 // 10ms frame duration, to keep the test fast
	caps.FrameRateDen = 1
	s := New(caps, nil)
	s.Ingest(media.NewFrame(caps, []byte{1}, false))

	ctx, cancel := context.WithTimeout(context.Background(), 105*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if err == nil {
		t.Fatalf("expected Run to return the context's error on cancellation")
	}

	got := s.FramesOut()
	if got < 8 || got > 13 {
		t.Fatalf("expected roughly 10 ticks in ~105ms at 10ms/frame, got %d", got)
	}
}
