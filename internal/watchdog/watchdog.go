// Package watchdog implements the two timers behind resilient failover: a
// watchdog that forces a switch to fallback after ingest has been silent for
// too long, and a resume detector that switches back once ingest has been
// flowing continuously for long enough. Both timers operate purely on
// buffer-arrival timestamps; neither inspects buffer contents.
package watchdog

import (
	"log/slog"
	"sync"
	"time"
)

// Clock abstracts time.Now so tests can drive the watchdog without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ticker and tickerFactory mirror cmd/server/session_purger.go's seam for
// injecting a fake ticker in tests instead of waiting on a real one.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()                { t.t.Stop() }

type tickerFactory func(time.Duration) ticker

// Config carries the no-data and resume thresholds, plus the polling
// cadence used to check for a silent ingest.
type Config struct {
	PollInterval    time.Duration
	NoDataTimeout   time.Duration
	ResumeThreshold time.Duration
}

// DefaultConfig mirrors the constants hard-coded in the original backend:
// a 500ms poll, a 2000ms no-data timeout, and a 100ms sustained-resume window.
func DefaultConfig() Config {
	return Config{
		PollInterval:    500 * time.Millisecond,
		NoDataTimeout:   2000 * time.Millisecond,
		ResumeThreshold: 100 * time.Millisecond,
	}
}

// Watchdog tracks whether the pipeline currently believes it is routing
// ingest or fallback, and drives the two callbacks that actually perform the
// switch (typically selector.Selector.Activate("fallback"/"ingest")).
type Watchdog struct {
	cfg   Config
	clock Clock
	log   *slog.Logger

	activateFallback func(reason string)
	activateIngest   func()

	mu             sync.Mutex
	onIngest       bool
	hasLastBuffer  bool
	lastBufferTime time.Time
	hasResumeStart bool
	resumeStart    time.Time
}

// New creates a Watchdog that starts believing it is routing ingest (the
// initial selection before any silence has been observed). activateFallback
// and activateIngest are invoked whenever the watchdog decides to switch;
// they must be safe to call from the watchdog's internal goroutine.
func New(cfg Config, log *slog.Logger, activateFallback func(reason string), activateIngest func()) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{
		cfg:              cfg,
		clock:            realClock{},
		log:              log.With("component", "watchdog"),
		activateFallback: activateFallback,
		activateIngest:   activateIngest,
		onIngest:         true,
	}
}

// WithClock overrides the clock, for tests.
func (w *Watchdog) WithClock(c Clock) *Watchdog {
	w.clock = c
	return w
}

// NotifyIngestBuffer must be called every time a buffer passes through the
// selector's ingest sink, whether or not that sink is currently active. This
// probe feeds both the watchdog timeout (while on ingest) and the resume
// detector (while on fallback).
func (w *Watchdog) NotifyIngestBuffer() {
	now := w.clock.Now()

	w.mu.Lock()
	w.lastBufferTime = now
	w.hasLastBuffer = true

	if w.onIngest {
		w.mu.Unlock()
		return
	}

	if !w.hasResumeStart {
		w.hasResumeStart = true
		w.resumeStart = now
		w.mu.Unlock()
		w.log.Info("detected ingest buffers while on fallback, monitoring for resume")
		return
	}

	elapsed := now.Sub(w.resumeStart)
	shouldResume := elapsed > w.cfg.ResumeThreshold
	w.mu.Unlock()

	if shouldResume {
		w.switchToIngest()
	}
}

func (w *Watchdog) switchToFallback(reason string) {
	w.mu.Lock()
	if !w.onIngest {
		w.mu.Unlock()
		return
	}
	w.onIngest = false
	w.hasResumeStart = false
	w.mu.Unlock()

	w.log.Info("switching to fallback", "reason", reason)
	if w.activateFallback != nil {
		w.activateFallback(reason)
	}
}

func (w *Watchdog) switchToIngest() {
	w.mu.Lock()
	if w.onIngest {
		w.mu.Unlock()
		return
	}
	w.onIngest = true
	w.hasResumeStart = false
	w.mu.Unlock()

	w.log.Info("resumed on ingest")
	if w.activateIngest != nil {
		w.activateIngest()
	}
}

// OnIngest reports the watchdog's current belief about which side is routed.
// It does not query the selector; it is the watchdog's own bookkeeping, kept
// in lockstep with the Activate calls it issues.
func (w *Watchdog) OnIngest() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.onIngest
}

func (w *Watchdog) poll() {
	now := w.clock.Now()

	w.mu.Lock()
	onIngest := w.onIngest
	hasLastBuffer := w.hasLastBuffer
	lastBufferTime := w.lastBufferTime
	w.mu.Unlock()

	if !onIngest || !hasLastBuffer {
		return
	}
	if now.Sub(lastBufferTime) > w.cfg.NoDataTimeout {
		w.switchToFallback("watchdog")
	}
}

// Start runs the polling loop until stop is called. It mirrors
// startSessionPurgeWorker's ticker-based background worker.
func (w *Watchdog) Start() (stop func()) {
	return w.startWithTicker(func(d time.Duration) ticker {
		return timeTicker{t: time.NewTicker(d)}
	})
}

func (w *Watchdog) startWithTicker(newTicker tickerFactory) func() {
	tk := newTicker(w.cfg.PollInterval)
	done := make(chan struct{})
	stopCh := make(chan struct{})
	go func() {
		defer func() {
			tk.Stop()
			close(done)
		}()
		for {
			select {
			case <-stopCh:
				return
			case <-tk.C():
				w.poll()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-done
		})
	}
}
