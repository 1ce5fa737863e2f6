package selector

import (
	"testing"

	"github.com/signalkeep/relay/internal/media"
)

func testCaps() media.Caps {
	return media.Caps{
		PixelFormat:  media.PixelFormatNV12,
		Width:        640,
		Height:       480,
		FrameRateNum: 25,
		FrameRateDen: 1,
		Colorimetry:  media.Colorimetry{Range: "limited", Matrix: "bt709"},
	}
}

func TestActivateExclusivity(t *testing.T) {
	s := New(DefaultConfig(), nil)
	if _, err := s.AcquireSink("fallback", testCaps()); err != nil {
		t.Fatalf("AcquireSink fallback: %v", err)
	}
	if _, err := s.AcquireSink("ingest", testCaps()); err != nil {
		t.Fatalf("AcquireSink ingest: %v", err)
	}

	if s.Active() != "fallback" {
		t.Fatalf("expected first acquired sink to become active, got %q", s.Active())
	}

	if err := s.Activate("ingest"); err != nil {
		t.Fatalf("Activate ingest: %v", err)
	}
	if s.Active() != "ingest" {
		t.Fatalf("expected active=ingest, got %q", s.Active())
	}
}

func TestActivateRejectsMismatchedCaps(t *testing.T) {
	s := New(DefaultConfig(), nil)
	if _, err := s.AcquireSink("fallback", testCaps()); err != nil {
		t.Fatalf("AcquireSink: %v", err)
	}
	bad := testCaps()
	bad.Width = 1280
	if _, err := s.AcquireSink("ingest", bad); err == nil {
		t.Fatalf("expected AcquireSink to reject mismatched caps")
	}
}

func TestReleaseActiveSinkIsError(t *testing.T) {
	s := New(DefaultConfig(), nil)
	if _, err := s.AcquireSink("fallback", testCaps()); err != nil {
		t.Fatalf("AcquireSink: %v", err)
	}
	if err := s.ReleaseSink("fallback"); err == nil {
		t.Fatalf("expected error releasing the active sink")
	}
	if _, err := s.AcquireSink("ingest", testCaps()); err != nil {
		t.Fatalf("AcquireSink ingest: %v", err)
	}
	if err := s.Activate("ingest"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := s.ReleaseSink("fallback"); err != nil {
		t.Fatalf("expected release to succeed once fallback is no longer active: %v", err)
	}
}

func TestPushOnlyForwardsFromActiveSink(t *testing.T) {
	s := New(DefaultConfig(), nil)
	if _, err := s.AcquireSink("fallback", testCaps()); err != nil {
		t.Fatalf("AcquireSink: %v", err)
	}
	if _, err := s.AcquireSink("ingest", testCaps()); err != nil {
		t.Fatalf("AcquireSink: %v", err)
	}

	var forwarded []SinkID
	s.SetOnFrame(func(f *media.Frame) {
		forwarded = append(forwarded, SinkID(f.Data[0]))
	})

	frame := func(tag byte) *media.Frame {
		return media.NewFrame(testCaps(), []byte{tag}, false)
	}

	if err := s.Push("fallback", frame('f')); err != nil {
		t.Fatalf("Push fallback: %v", err)
	}
	if err := s.Push("ingest", frame('i')); err != nil {
		t.Fatalf("Push ingest: %v", err)
	}
	if len(forwarded) != 1 {
		t.Fatalf("expected exactly one forwarded frame (from the active sink), got %d", len(forwarded))
	}
}

func TestActivateForwardsCachedFrameInstantly(t *testing.T) {
	s := New(DefaultConfig(), nil)
	if _, err := s.AcquireSink("fallback", testCaps()); err != nil {
		t.Fatalf("AcquireSink: %v", err)
	}
	if _, err := s.AcquireSink("ingest", testCaps()); err != nil {
		t.Fatalf("AcquireSink: %v", err)
	}

	var forwarded int
	s.SetOnFrame(func(*media.Frame) { forwarded++ })

	// Cache a frame on ingest while fallback is active; it should not be
	// forwarded yet.
	if err := s.Push("ingest", media.NewFrame(testCaps(), []byte{1}, false)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if forwarded != 0 {
		t.Fatalf("expected no forwarded frames before activation, got %d", forwarded)
	}

	if err := s.Activate("ingest"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if forwarded != 1 {
		t.Fatalf("expected the cached ingest frame to be forwarded on activation, got %d", forwarded)
	}
}
