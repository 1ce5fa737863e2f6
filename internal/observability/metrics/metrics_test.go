package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestObserveRequestAccumulatesCountAndDuration(t *testing.T) {
	r := New()
	r.ObserveRequest("get", "/status", 200, 10*time.Millisecond)
	r.ObserveRequest("GET", "/status", 200, 20*time.Millisecond)

	var sb strings.Builder
	r.Write(&sb)
	out := sb.String()
	if !strings.Contains(out, `relay_http_requests_total{method="GET",path="/status",status="200"} 2`) {
		t.Fatalf("expected accumulated request count of 2, got:\n%s", out)
	}
}

func TestNormalizePathReplacesIdentifiersWithPlaceholder(t *testing.T) {
	r := New()
	r.ObserveRequest("GET", "/streams/abcdef123456", 200, 0)

	var sb strings.Builder
	r.Write(&sb)
	if !strings.Contains(sb.String(), `path="/streams/:id"`) {
		t.Fatalf("expected the long identifier segment normalized, got:\n%s", sb.String())
	}
}

func TestSetFrameCountsUpdatesGauges(t *testing.T) {
	r := New()
	r.SetFrameCounts(100, 98, 3, 100)
	framesIn, framesOut, framesRepeated, inSeq := r.FrameCounts()
	if framesIn != 100 || framesOut != 98 || framesRepeated != 3 || inSeq != 100 {
		t.Fatalf("unexpected frame counts: in=%d out=%d repeated=%d seq=%d", framesIn, framesOut, framesRepeated, inSeq)
	}
}

func TestWatchdogSwitchedAccumulatesByDirection(t *testing.T) {
	r := New()
	r.WatchdogSwitched("to-fallback")
	r.WatchdogSwitched("to-fallback")
	r.WatchdogSwitched("to-ingest")

	var sb strings.Builder
	r.Write(&sb)
	out := sb.String()
	if !strings.Contains(out, `relay_watchdog_switches_total{direction="to-fallback"} 2`) {
		t.Fatalf("expected 2 to-fallback switches, got:\n%s", out)
	}
	if !strings.Contains(out, `relay_watchdog_switches_total{direction="to-ingest"} 1`) {
		t.Fatalf("expected 1 to-ingest switch, got:\n%s", out)
	}
}

func TestRebuildCountersTrackAttemptsAndFailures(t *testing.T) {
	r := New()
	r.RebuildStarted()
	r.RebuildStarted()
	r.RebuildFailed()

	total, failed := r.Rebuilds()
	if total != 2 || failed != 1 {
		t.Fatalf("expected 2 attempts and 1 failure, got total=%d failed=%d", total, failed)
	}
}

func TestResetClearsAllCounters(t *testing.T) {
	r := New()
	r.ObserveRequest("GET", "/status", 200, time.Millisecond)
	r.SetFrameCounts(10, 10, 0, 10)
	r.WatchdogSwitched("to-fallback")
	r.RebuildStarted()

	r.Reset()

	framesIn, framesOut, framesRepeated, inSeq := r.FrameCounts()
	if framesIn != 0 || framesOut != 0 || framesRepeated != 0 || inSeq != 0 {
		t.Fatalf("expected frame counts reset to zero, got in=%d out=%d repeated=%d seq=%d", framesIn, framesOut, framesRepeated, inSeq)
	}
	total, failed := r.Rebuilds()
	if total != 0 || failed != 0 {
		t.Fatalf("expected rebuild counters reset to zero, got total=%d failed=%d", total, failed)
	}

	var sb strings.Builder
	r.Write(&sb)
	if strings.Contains(sb.String(), `relay_http_requests_total{method="GET"`) {
		t.Fatalf("expected request counters cleared after Reset, got:\n%s", sb.String())
	}
}
