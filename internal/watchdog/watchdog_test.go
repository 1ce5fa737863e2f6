package watchdog

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced Clock, avoiding real sleeps in tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestWatchdog(t *testing.T) (*Watchdog, *fakeClock, *int, *[]string) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	resumes := 0
	var reasons []string
	w := New(DefaultConfig(), nil,
		func(reason string) { reasons = append(reasons, reason) },
		func() { resumes++ },
	).WithClock(clock)
	return w, clock, &resumes, &reasons
}

func TestWatchdogStartsOnIngest(t *testing.T) {
	w, _, _, _ := newTestWatchdog(t)
	if !w.OnIngest() {
		t.Fatalf("expected watchdog to start believing it is on ingest")
	}
}

func TestWatchdogSwitchesToFallbackAfterSilence(t *testing.T) {
	w, clock, _, reasons := newTestWatchdog(t)
	w.NotifyIngestBuffer()

	clock.advance(w.cfg.NoDataTimeout + time.Millisecond)
	w.poll()

	if w.OnIngest() {
		t.Fatalf("expected watchdog to switch to fallback after silence")
	}
	if len(*reasons) != 1 || (*reasons)[0] != "watchdog" {
		t.Fatalf("expected one watchdog-triggered fallback, got %v", *reasons)
	}
}

func TestWatchdogDoesNotFireBeforeTimeout(t *testing.T) {
	w, clock, _, reasons := newTestWatchdog(t)
	w.NotifyIngestBuffer()

	clock.advance(w.cfg.NoDataTimeout - time.Millisecond)
	w.poll()

	if !w.OnIngest() {
		t.Fatalf("expected watchdog to remain on ingest before timeout elapses")
	}
	if len(*reasons) != 0 {
		t.Fatalf("expected no fallback switch yet, got %v", *reasons)
	}
}

func TestWatchdogIgnoresSilenceBeforeFirstBuffer(t *testing.T) {
	w, clock, _, reasons := newTestWatchdog(t)
	clock.advance(10 * time.Hour)
	w.poll()

	if !w.OnIngest() {
		t.Fatalf("expected watchdog to stay on ingest when no buffer has ever arrived")
	}
	if len(*reasons) != 0 {
		t.Fatalf("expected no fallback switch, got %v", *reasons)
	}
}

func TestResumeRequiresSustainedFlowBeforeSwitchingBack(t *testing.T) {
	w, clock, resumes, _ := newTestWatchdog(t)
	w.NotifyIngestBuffer()
	clock.advance(w.cfg.NoDataTimeout + time.Millisecond)
	w.poll()
	if w.OnIngest() {
		t.Fatalf("setup: expected fallback")
	}

	// First buffer after the switch only starts the resume window; it must
	// not resume immediately.
	w.NotifyIngestBuffer()
	if w.OnIngest() {
		t.Fatalf("expected no immediate resume on first post-fallback buffer")
	}
	if *resumes != 0 {
		t.Fatalf("expected zero resumes so far, got %d", *resumes)
	}

	// A second buffer arriving before the resume threshold has elapsed must
	// not resume either.
	clock.advance(w.cfg.ResumeThreshold / 2)
	w.NotifyIngestBuffer()
	if w.OnIngest() {
		t.Fatalf("expected no resume before threshold elapses")
	}

	// Once the resume threshold has elapsed since the first post-fallback
	// buffer, the next buffer confirms sustained flow and resumes ingest.
	clock.advance(w.cfg.ResumeThreshold)
	w.NotifyIngestBuffer()
	if !w.OnIngest() {
		t.Fatalf("expected watchdog to resume ingest after sustained flow")
	}
	if *resumes != 1 {
		t.Fatalf("expected exactly one resume, got %d", *resumes)
	}
}

func TestSwitchToFallbackIsIdempotent(t *testing.T) {
	w, clock, _, reasons := newTestWatchdog(t)
	w.NotifyIngestBuffer()
	clock.advance(w.cfg.NoDataTimeout + time.Millisecond)
	w.poll()
	w.poll()
	w.poll()

	if len(*reasons) != 1 {
		t.Fatalf("expected exactly one fallback switch despite repeated polls, got %d", len(*reasons))
	}
}

func TestStartStopWithFakeTicker(t *testing.T) {
	w, clock, _, reasons := newTestWatchdog(t)
	w.NotifyIngestBuffer()

	tickCh := make(chan time.Time, 1)
	stopped := make(chan struct{})
	stop := w.startWithTicker(func(time.Duration) ticker {
		return fakeTicker{c: tickCh, stopped: stopped}
	})
	defer stop()

	clock.advance(w.cfg.NoDataTimeout + time.Millisecond)
	tickCh <- clock.now

	deadline := time.Now().Add(time.Second)
	for len(*reasons) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(*reasons) != 1 {
		t.Fatalf("expected the background loop to invoke the fallback switch, got %d", len(*reasons))
	}
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func (f fakeTicker) C() <-chan time.Time { return f.c }
func (f fakeTicker) Stop()                { close(f.stopped) }
