package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
	"github.com/signalkeep/relay/internal/selector"
)

func testCaps() media.Caps {
	return media.Caps{PixelFormat: media.PixelFormatI420, Width: 640, Height: 480, FrameRateNum: 25, FrameRateDen: 1}
}

func newTestSelector(t *testing.T) *selector.Selector {
	t.Helper()
	sel := selector.New(selector.DefaultConfig(), nil)
	if _, err := sel.AcquireSink(selector.SinkID("ingest"), testCaps()); err != nil {
		t.Fatalf("acquire ingest sink: %v", err)
	}
	if _, err := sel.AcquireSink(selector.SinkID("fallback"), testCaps()); err != nil {
		t.Fatalf("acquire fallback sink: %v", err)
	}
	return sel
}

type fakeRebuilder struct {
	mu         sync.Mutex
	hasDecoder bool
	rebuilds   int
	err        error
}

func (f *fakeRebuilder) HasDecoder() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasDecoder
}

func (f *fakeRebuilder) RebuildDynamic(ctx context.Context) error {
	f.mu.Lock()
	f.rebuilds++
	err := f.err
	f.mu.Unlock()
	return err
}

func (f *fakeRebuilder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rebuilds
}

type fakeReceiver struct {
	mu             sync.Mutex
	paused, resumed int
}

func (f *fakeReceiver) Pause() error {
	f.mu.Lock()
	f.paused++
	f.mu.Unlock()
	return nil
}

func (f *fakeReceiver) Resume() error {
	f.mu.Lock()
	f.resumed++
	f.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestIngestErrorForcesFallbackAndSchedulesRebuild(t *testing.T) {
	graph := graphcore.New("test", nil)
	sel := newTestSelector(t)
	if err := sel.Activate(selector.SinkID("ingest")); err != nil {
		t.Fatalf("activate ingest: %v", err)
	}
	rebuilder := &fakeRebuilder{hasDecoder: true}
	receiver := &fakeReceiver{}

	sv := New(graph, sel, rebuilder, receiver, nil, nil)
	sv.Start()
	defer sv.Stop()

	graph.Bus().Post(graphcore.Message{Severity: graphcore.SeverityError, Source: "ts-demux", Role: graphcore.RoleTSDemux, Text: "boom"})

	waitFor(t, func() bool { return sel.Active() == selector.SinkID("fallback") })
	waitFor(t, func() bool { return rebuilder.count() == 1 })
}

func TestNonIngestErrorIsFatal(t *testing.T) {
	graph := graphcore.New("test", nil)
	sel := newTestSelector(t)

	var gotErr error
	var mu sync.Mutex
	onFatal := func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	}

	sv := New(graph, sel, nil, nil, onFatal, nil)
	sv.Start()
	defer sv.Stop()

	graph.Bus().Post(graphcore.Message{Severity: graphcore.SeverityError, Source: "synchronizer", Role: graphcore.RoleSynchronizer, Err: errors.New("render loop died")})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	})
}

func TestRebuildNotScheduledWithoutAnExistingDecoder(t *testing.T) {
	graph := graphcore.New("test", nil)
	sel := newTestSelector(t)
	rebuilder := &fakeRebuilder{hasDecoder: false}

	sv := New(graph, sel, rebuilder, nil, nil, nil)
	sv.Start()
	defer sv.Stop()

	graph.Bus().Post(graphcore.Message{Severity: graphcore.SeverityError, Source: "udp-receive", Role: graphcore.RoleUDPReceive, Text: "read error"})

	time.Sleep(50 * time.Millisecond)
	if rebuilder.count() != 0 {
		t.Fatalf("expected no rebuild without an existing decoder, got %d", rebuilder.count())
	}
}

func TestSecondRebuildIsSuppressedWhileOneIsPending(t *testing.T) {
	graph := graphcore.New("test", nil)
	sel := newTestSelector(t)
	graph.TryBeginRebuild() // simulate a rebuild already in flight
	rebuilder := &fakeRebuilder{hasDecoder: true}

	sv := New(graph, sel, rebuilder, nil, nil, nil)
	sv.Start()
	defer sv.Stop()

	graph.Bus().Post(graphcore.Message{Severity: graphcore.SeverityError, Source: "decode-chain", Role: graphcore.RoleDecodeChain, Text: "codec mismatch"})

	time.Sleep(50 * time.Millisecond)
	if rebuilder.count() != 0 {
		t.Fatalf("expected the in-flight rebuild flag to suppress a second rebuild, got %d", rebuilder.count())
	}
}
