// Command relayd is the resilient live-video relay daemon: it receives an
// MPEG-TS/UDP stream of unpredictable codec and quality, normalizes it to a
// fixed canonical output, and never stops producing output even while the
// input stutters, drops, or changes codec out from under it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalkeep/relay/internal/config"
	"github.com/signalkeep/relay/internal/controlplane"
	"github.com/signalkeep/relay/internal/fallback"
	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/ingest"
	"github.com/signalkeep/relay/internal/media"
	"github.com/signalkeep/relay/internal/observability/eventmirror"
	"github.com/signalkeep/relay/internal/observability/logging"
	"github.com/signalkeep/relay/internal/observability/metrics"
	"github.com/signalkeep/relay/internal/output"
	"github.com/signalkeep/relay/internal/selector"
	"github.com/signalkeep/relay/internal/supervisor"
	"github.com/signalkeep/relay/internal/synchronizer"
	"github.com/signalkeep/relay/internal/watchdog"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "relayd:", err)
		os.Exit(1)
	}

	level := "info"
	if cfg.Verbose {
		level = "debug"
	}
	logger := logging.Init(logging.Config{Level: level})

	if err := run(cfg, logger); err != nil {
		logger.Error("relayd exited with error", "error", err)
		os.Exit(1)
	}
}

// daemon bundles every long-lived component run builds, so shutdown can
// tear them down in one place regardless of which one triggered it.
type daemon struct {
	log    *slog.Logger
	graph  *graphcore.Graph
	sel    *selector.Selector
	chain  *ingest.Chain
	fb     *fallback.Source
	wd     *watchdog.Watchdog
	sup    *supervisor.Supervisor
	sync   *synchronizer.Synchronizer
	sink   output.Sink
	rec    *metrics.Recorder
	stats  *metrics.StatsJob
	mirror *eventmirror.Mirror
	ctrl   *controlplane.Server
}

func run(cfg config.Config, log *slog.Logger) error {
	d, err := build(cfg, log)
	if err != nil {
		return fmt.Errorf("relayd: building pipeline: %w", err)
	}
	defer d.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, gctx := supervisor.NewGroup(ctx)

	group.Go(func() error {
		return d.sync.Run(gctx)
	})

	if d.ctrl != nil {
		group.Go(func() error {
			return d.ctrl.Run(gctx, d.graph.Bus())
		})
	}

	if err := d.chain.Start(); err != nil {
		cancel()
		return fmt.Errorf("relayd: starting ingest: %w", err)
	}
	d.fb.Start()
	d.sup.Start()
	stopWatchdog := d.wd.Start()
	if d.stats != nil {
		d.stats.Start()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errs := make(chan error, 1)
	go func() {
		errs <- group.Wait()
	}()

	var pipelineErr error
	select {
	case sig := <-quit:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("pipeline error, shutting down", "error", err)
			pipelineErr = err
		}
	}

	cancel()
	stopWatchdog()
	d.sup.Stop()
	if d.stats != nil {
		d.stats.Stop()
	}

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		log.Warn("timed out waiting for render/control goroutines to exit")
	}

	d.teardown()
	return pipelineErr
}

// teardown brings the graph to the stopped state on a clean shutdown (spec
// §7 S6): quiesce and remove the ingest chain, quiesce the fallback source, then
// release the selector's acquired sink endpoints, then mark the graph root
// stopped. Order matters: the graph must not be marked stopped while a
// sink endpoint is still acquired, and nodes must not be removed while
// still linked to a live selector sink.
func (d *daemon) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.chain.Close(ctx); err != nil {
		d.log.Warn("tearing down ingest chain", "error", err)
	}
	if err := d.fb.Node().Quiesce(ctx); err != nil {
		d.log.Warn("quiescing fallback source", "error", err)
	}
	d.sel.ReleaseAll()
	d.graph.SetState(graphcore.StateStopped)
}

// build wires the full relay pipeline: UDP receive -> elastic buffer -> TS
// demux -> decode -> ingest normalize -> selector <- fallback source,
// selector -> synchronizer -> output sink, with the supervisor and
// watchdog observing the bus and the ingest-frame probe respectively.
func build(cfg config.Config, log *slog.Logger) (*daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	caps := cfg.Caps()
	if !caps.Valid() {
		return nil, fmt.Errorf("invalid canonical caps: %s", caps)
	}

	rec := metrics.Default()
	graph := graphcore.New("relay", log)
	sel := selector.New(selector.DefaultConfig(), log)
	if err := graph.AddNode(sel.Node()); err != nil {
		return nil, fmt.Errorf("registering selector node: %w", err)
	}

	chainCfg := ingest.ChainConfig{
		UDP: ingest.UDPReceiveConfig{
			Port:            cfg.InputPort,
			RecvBufferBytes: cfg.RecvBufferBytes,
		},
		Buffer: ingest.ElasticBufferConfig{
			MinFill: cfg.JitterBuffer(),
			MaxHold: cfg.MaxQueue(),
		},
		Normalize: ingest.DefaultNormalizeConfig(caps),
	}
	chain, err := ingest.NewChain(graph, chainCfg, log)
	if err != nil {
		return nil, fmt.Errorf("building ingest chain: %w", err)
	}

	if _, err := sel.AcquireSink(selector.SinkID("ingest"), caps); err != nil {
		return nil, fmt.Errorf("acquiring ingest sink: %w", err)
	}

	fb := fallback.New(fallback.DefaultConfig(caps), log)
	if err := graph.AddNode(fb.Node()); err != nil {
		return nil, fmt.Errorf("registering fallback node: %w", err)
	}
	if _, err := sel.AcquireSink(selector.SinkID("fallback"), caps); err != nil {
		return nil, fmt.Errorf("acquiring fallback sink: %w", err)
	}
	fbNorm := ingest.NewNormalizeStage("fallback-normalize", ingest.DefaultNormalizeConfig(caps), log)
	fbNorm.SetOnFrame(func(f *media.Frame) {
		_ = sel.Push(selector.SinkID("fallback"), f)
	})
	fb.SetOnFrame(fbNorm.Push)
	if err := sel.Activate(selector.SinkID("fallback")); err != nil {
		return nil, fmt.Errorf("selecting initial fallback sink: %w", err)
	}

	sync := synchronizer.New(caps, log).WithNoSignalTimeout(cfg.NoSignalTimeout())
	sync.SetFallbackFrame(fb.FallbackFrame())

	sink, err := buildOutputSink(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("building output sink: %w", err)
	}
	sync.SetOnOutput(func(f *media.Frame) {
		if err := sink.Write(f); err != nil {
			log.Warn("output sink write failed", "error", err)
		}
		rec.SetFrameCounts(sync.Slot().FramesIn(), sync.FramesOut(), sync.FramesRepeated(), sync.Slot().FramesIn())
	})

	wdCfg := watchdog.DefaultConfig()
	wdCfg.NoDataTimeout = cfg.WatchdogTimeout()
	wdCfg.ResumeThreshold = cfg.ResumeThreshold()
	wd := watchdog.New(wdCfg, log,
		func(reason string) {
			rec.WatchdogSwitched("to-fallback")
			if err := sel.Activate(selector.SinkID("fallback")); err != nil {
				log.Error("watchdog: failed to force fallback", "reason", reason, "error", err)
			}
		},
		func() {
			rec.WatchdogSwitched("to-ingest")
			if err := sel.Activate(selector.SinkID("ingest")); err != nil {
				log.Error("watchdog: failed to resume ingest", "error", err)
			}
		},
	)

	// NotifyIngestBuffer must fire on every ingest-sink push whether or not
	// ingest is currently active, so it is wired at the chain's own frame
	// callback rather than the selector's downstream (active-only) one.
	chain.SetOnFrame(func(f *media.Frame) {
		_ = sel.Push(selector.SinkID("ingest"), f)
		wd.NotifyIngestBuffer()
	})
	sel.SetOnFrame(sync.Ingest)

	sup := supervisor.New(graph, sel, chain, chain.Receive, func(err error) {
		log.Error("supervisor observed a fatal non-ingest error", "error", err)
	}, log)

	d := &daemon{
		log: log, graph: graph, sel: sel, chain: chain, fb: fb,
		wd: wd, sup: sup, sync: sync, sink: sink, rec: rec,
	}

	statsJob, err := metrics.NewStatsJob(cfg.StatsIntervalSeconds, rec, log)
	if err != nil {
		return nil, fmt.Errorf("scheduling stats job: %w", err)
	}
	d.stats = statsJob

	if cfg.EventMirrorRedisAddr != "" {
		mirror, err := eventmirror.New(eventmirror.DefaultConfig(cfg.EventMirrorRedisAddr), log)
		if err != nil {
			return nil, fmt.Errorf("starting event mirror: %w", err)
		}
		mirror.Start(graph.Bus())
		d.mirror = mirror
	}

	if cfg.ControlPlaneAddr != "" {
		ctrlCfg := controlplane.DefaultConfig()
		ctrlCfg.Addr = cfg.ControlPlaneAddr
		d.ctrl = controlplane.New(ctrlCfg, rec, graph, sel, log)
	}

	return d, nil
}

func buildOutputSink(cfg config.Config, log *slog.Logger) (output.Sink, error) {
	switch cfg.OutputContainer {
	case config.OutputContainerRTP:
		rtpCfg := output.DefaultRTPConfig()
		rtpCfg.Host, rtpCfg.Port = cfg.OutputHost, cfg.OutputPort
		return output.NewRTPSink(rtpCfg, log)
	case config.OutputContainerMPEGTS:
		tsCfg := output.DefaultMPEGTSConfig()
		tsCfg.Host, tsCfg.Port = cfg.OutputHost, cfg.OutputPort
		tsCfg.Codec = mpegtsCodec(cfg.OutputCodec)
		return output.NewMPEGTSSink(tsCfg, log)
	case config.OutputContainerSharedMemory:
		shmCfg := output.DefaultSharedMemoryConfig()
		shmCfg.Path, shmCfg.Size = cfg.SharedMemPath, cfg.SharedMemSize
		return output.NewSharedMemorySink(shmCfg, log)
	case config.OutputContainerFile:
		return output.NewFileSink(output.FileConfig{Path: cfg.OutputFilePath}, log)
	case config.OutputContainerRawUDP:
		fallthrough
	default:
		rawCfg := output.DefaultRawUDPConfig()
		rawCfg.Host, rawCfg.Port = cfg.OutputHost, cfg.OutputPort
		return output.NewRawUDPSink(rawCfg, log)
	}
}

func mpegtsCodec(c config.OutputCodec) output.VideoCodec {
	if c == config.OutputCodecH265 {
		return output.VideoCodecH265
	}
	return output.VideoCodecH264
}

func (d *daemon) close() {
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			d.log.Warn("closing output sink", "error", err)
		}
	}
	if d.mirror != nil {
		if err := d.mirror.Close(); err != nil {
			d.log.Warn("closing event mirror", "error", err)
		}
	}
}
