package main

import (
	"path/filepath"
	"testing"

	"github.com/signalkeep/relay/internal/config"
	"github.com/signalkeep/relay/internal/output"
)

func TestBuildOutputSinkRawUDPIsDefault(t *testing.T) {
	cfg := config.Default()
	cfg.OutputContainer = config.OutputContainerRawUDP
	sink, err := buildOutputSink(cfg, nil)
	if err != nil {
		t.Fatalf("buildOutputSink: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(*output.RawUDPSink); !ok {
		t.Fatalf("expected *output.RawUDPSink, got %T", sink)
	}
}

func TestBuildOutputSinkRTP(t *testing.T) {
	cfg := config.Default()
	cfg.OutputContainer = config.OutputContainerRTP
	sink, err := buildOutputSink(cfg, nil)
	if err != nil {
		t.Fatalf("buildOutputSink: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(*output.RTPSink); !ok {
		t.Fatalf("expected *output.RTPSink, got %T", sink)
	}
}

func TestBuildOutputSinkMPEGTS(t *testing.T) {
	cfg := config.Default()
	cfg.OutputContainer = config.OutputContainerMPEGTS
	cfg.OutputCodec = config.OutputCodecH265
	sink, err := buildOutputSink(cfg, nil)
	if err != nil {
		t.Fatalf("buildOutputSink: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(*output.MPEGTSSink); !ok {
		t.Fatalf("expected *output.MPEGTSSink, got %T", sink)
	}
}

func TestBuildOutputSinkFileRequiresPath(t *testing.T) {
	cfg := config.Default()
	cfg.OutputContainer = config.OutputContainerFile
	cfg.OutputFilePath = filepath.Join(t.TempDir(), "out.raw")
	sink, err := buildOutputSink(cfg, nil)
	if err != nil {
		t.Fatalf("buildOutputSink: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(*output.FileSink); !ok {
		t.Fatalf("expected *output.FileSink, got %T", sink)
	}
}

func TestBuildOutputSinkSharedMemory(t *testing.T) {
	cfg := config.Default()
	cfg.OutputContainer = config.OutputContainerSharedMemory
	cfg.SharedMemPath = filepath.Join(t.TempDir(), "relay.sock")
	sink, err := buildOutputSink(cfg, nil)
	if err != nil {
		t.Fatalf("buildOutputSink: %v", err)
	}
	defer sink.Close()
	if _, ok := sink.(*output.SharedMemorySink); !ok {
		t.Fatalf("expected *output.SharedMemorySink, got %T", sink)
	}
}

func TestMPEGTSCodecMapping(t *testing.T) {
	if mpegtsCodec(config.OutputCodecH265) != output.VideoCodecH265 {
		t.Fatalf("expected h265 to map to VideoCodecH265")
	}
	if mpegtsCodec(config.OutputCodecH264) != output.VideoCodecH264 {
		t.Fatalf("expected h264 to map to VideoCodecH264")
	}
	if mpegtsCodec(config.OutputCodecRaw) != output.VideoCodecH264 {
		t.Fatalf("expected raw to default to VideoCodecH264")
	}
}

func TestBuildWiresPipelineWithoutStartingIO(t *testing.T) {
	cfg := config.Default()
	cfg.InputPort = 0 // chain.Start() (not exercised here) would pick an ephemeral port
	cfg.OutputContainer = config.OutputContainerRawUDP
	cfg.StatsIntervalSeconds = 0

	d, err := build(cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer d.close()

	if d.sel.Active() != "fallback" {
		t.Fatalf("expected initial active sink to be fallback, got %q", d.sel.Active())
	}
	if d.stats != nil {
		t.Fatalf("expected stats job to be disabled when StatsIntervalSeconds=0")
	}
	if d.ctrl != nil {
		t.Fatalf("expected control plane to be disabled by default")
	}
	if d.mirror != nil {
		t.Fatalf("expected event mirror to be disabled by default")
	}
}
