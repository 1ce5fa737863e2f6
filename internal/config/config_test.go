package config

import "testing"

func TestParseDefaultsMatchBaselineConstants(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.InputPort != 5000 {
		t.Errorf("InputPort = %d, want 5000", cfg.InputPort)
	}
	if cfg.OutputHost != "127.0.0.1" || cfg.OutputPort != 5004 {
		t.Errorf("output addr = %s:%d, want 127.0.0.1:5004", cfg.OutputHost, cfg.OutputPort)
	}
	if cfg.OutputWidth != 640 || cfg.OutputHeight != 480 {
		t.Errorf("dims = %dx%d, want 640x480", cfg.OutputWidth, cfg.OutputHeight)
	}
	if cfg.FrameRateNum != 25 || cfg.FrameRateDen != 1 {
		t.Errorf("fps = %d/%d, want 25/1", cfg.FrameRateNum, cfg.FrameRateDen)
	}
	if cfg.WatchdogTimeoutMs != 2000 {
		t.Errorf("WatchdogTimeoutMs = %d, want 2000", cfg.WatchdogTimeoutMs)
	}
	if cfg.ResumeThresholdMs != 100 {
		t.Errorf("ResumeThresholdMs = %d, want 100", cfg.ResumeThresholdMs)
	}
	if cfg.EventMirrorRedisAddr != "" || cfg.ControlPlaneAddr != "" {
		t.Errorf("expected event mirror and control plane disabled by default")
	}
}

func TestParseOverridesFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"-input-port=6000",
		"-width=1280",
		"-height=720",
		"-output-codec=h264",
		"-output-container=rtp",
		"-stats-interval=0",
		"-verbose",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.InputPort != 6000 {
		t.Errorf("InputPort = %d, want 6000", cfg.InputPort)
	}
	if cfg.OutputWidth != 1280 || cfg.OutputHeight != 720 {
		t.Errorf("dims = %dx%d, want 1280x720", cfg.OutputWidth, cfg.OutputHeight)
	}
	if cfg.OutputCodec != OutputCodecH264 {
		t.Errorf("OutputCodec = %s, want h264", cfg.OutputCodec)
	}
	if cfg.OutputContainer != OutputContainerRTP {
		t.Errorf("OutputContainer = %s, want rtp", cfg.OutputContainer)
	}
	if cfg.StatsIntervalSeconds != 0 {
		t.Errorf("StatsIntervalSeconds = %d, want 0 (disabled)", cfg.StatsIntervalSeconds)
	}
	if !cfg.Verbose {
		t.Errorf("expected verbose to be true")
	}
}

func TestParseRejectsUnknownCodec(t *testing.T) {
	if _, err := Parse([]string{"-output-codec=mpeg2"}); err == nil {
		t.Fatal("expected an error for an unsupported codec")
	}
}

func TestParseRejectsFileContainerWithoutPath(t *testing.T) {
	if _, err := Parse([]string{"-output-container=file"}); err == nil {
		t.Fatal("expected an error when -output-container=file has no -output-file")
	}
}

func TestConfigCapsMatchesOutputDimensions(t *testing.T) {
	cfg := Default()
	caps := cfg.Caps()
	if caps.Width != cfg.OutputWidth || caps.Height != cfg.OutputHeight {
		t.Fatalf("caps dims %dx%d do not match config %dx%d", caps.Width, caps.Height, cfg.OutputWidth, cfg.OutputHeight)
	}
	if !caps.Valid() {
		t.Fatalf("expected default caps to be valid")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.WatchdogTimeout().Milliseconds() != 2000 {
		t.Errorf("WatchdogTimeout = %v, want 2000ms", cfg.WatchdogTimeout())
	}
	if cfg.ResumeThreshold().Milliseconds() != 100 {
		t.Errorf("ResumeThreshold = %v, want 100ms", cfg.ResumeThreshold())
	}
	if cfg.NoSignalTimeout().Milliseconds() != 5000 {
		t.Errorf("NoSignalTimeout = %v, want 5000ms", cfg.NoSignalTimeout())
	}
}
