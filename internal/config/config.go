// Package config declares relayd's command-line flags and resolves them,
// mirroring cmd/server/main.go's pattern of one flag.X call per setting
// followed by manual env-var fallback, wrapped here in a testable Parse so
// cmd/relayd itself stays a thin wiring layer.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalkeep/relay/internal/media"
)

// OutputCodec enumerates the output codec choices relayd accepts. The
// concrete encoder for anything but "raw" is an external collaborator; this
// value only selects which MPEG-TS PMT stream type downstream consumers
// should expect (H.265 for "h265", H.264 otherwise); other sinks ignore it.
type OutputCodec string

const (
	OutputCodecRaw  OutputCodec = "raw"
	OutputCodecH264 OutputCodec = "h264"
	OutputCodecH265 OutputCodec = "h265"
	OutputCodecVP8  OutputCodec = "vp8"
	OutputCodecVP9  OutputCodec = "vp9"
)

func parseOutputCodec(s string) (OutputCodec, error) {
	switch OutputCodec(strings.ToLower(strings.TrimSpace(s))) {
	case OutputCodecRaw:
		return OutputCodecRaw, nil
	case OutputCodecH264:
		return OutputCodecH264, nil
	case OutputCodecH265:
		return OutputCodecH265, nil
	case OutputCodecVP8:
		return OutputCodecVP8, nil
	case OutputCodecVP9:
		return OutputCodecVP9, nil
	default:
		return "", fmt.Errorf("config: unknown output codec %q", s)
	}
}

// OutputContainer enumerates the output transport/container choices relayd accepts.
type OutputContainer string

const (
	OutputContainerRTP          OutputContainer = "rtp"
	OutputContainerMPEGTS       OutputContainer = "mpegts"
	OutputContainerSharedMemory OutputContainer = "shm"
	OutputContainerRawUDP       OutputContainer = "raw-udp"
	OutputContainerFile         OutputContainer = "file"
)

func parseOutputContainer(s string) (OutputContainer, error) {
	switch OutputContainer(strings.ToLower(strings.TrimSpace(s))) {
	case OutputContainerRTP:
		return OutputContainerRTP, nil
	case OutputContainerMPEGTS:
		return OutputContainerMPEGTS, nil
	case OutputContainerSharedMemory:
		return OutputContainerSharedMemory, nil
	case OutputContainerRawUDP:
		return OutputContainerRawUDP, nil
	case OutputContainerFile:
		return OutputContainerFile, nil
	default:
		return "", fmt.Errorf("config: unknown output container %q", s)
	}
}

// Config is relayd's fully-resolved set of command-line settings, covering
// ingest, canonical output caps, output transport, resilience thresholds,
// observability, and the optional event-mirror/control-plane endpoints.
// Every field has a sensible zero-flag default (see Default below), so a
// bare `relayd` invocation runs against a fixed, known-good configuration.
type Config struct {
	// Ingest.
	InputPort       int
	RecvBufferBytes int
	JitterBufferMs  int
	MaxQueueMs      int

	// Canonical output caps.
	OutputWidth      int
	OutputHeight     int
	FrameRateNum     int
	FrameRateDen     int
	BitrateKbps      int
	KeyframeInterval int

	// Output transport.
	OutputCodec     OutputCodec
	OutputContainer OutputContainer
	OutputHost      string
	OutputPort      int
	SharedMemPath   string
	SharedMemSize   int
	OutputFilePath  string

	// Resilience thresholds.
	WatchdogTimeoutMs int
	ResumeThresholdMs int
	NoSignalTimeoutMs int

	// Observability.
	StatsIntervalSeconds int
	Verbose              bool

	// Optional Redis bus mirror and optional HTTP/WebSocket control
	// plane, both disabled unless their address flags are set.
	EventMirrorRedisAddr string
	ControlPlaneAddr     string
}

// Default returns relayd's baseline configuration: 640x480 @ 25/1, input
// port 5000, an 8 MiB UDP receive buffer, output to 127.0.0.1:5004, a
// 2000ms watchdog timeout and 100ms resume threshold.
func Default() Config {
	return Config{
		InputPort:       5000,
		RecvBufferBytes: 8 * 1024 * 1024,
		JitterBufferMs:  1000,
		MaxQueueMs:      3000,

		OutputWidth:      640,
		OutputHeight:     480,
		FrameRateNum:     25,
		FrameRateDen:     1,
		BitrateKbps:      2000,
		KeyframeInterval: 25,

		OutputCodec:     OutputCodecRaw,
		OutputContainer: OutputContainerMPEGTS,
		OutputHost:      "127.0.0.1",
		OutputPort:      5004,
		SharedMemPath:   "/tmp/relay.sock",
		SharedMemSize:   8 * 1024 * 1024,
		OutputFilePath:  "",

		WatchdogTimeoutMs: 2000,
		ResumeThresholdMs: 100,
		NoSignalTimeoutMs: 5000,

		StatsIntervalSeconds: 10,
		Verbose:              false,
	}
}

// Caps derives the canonical media.Caps this Config resolves to: always
// I420, limited-range bt709 (the normalize stage also supports NV12, but
// no flag selects it).
func (c Config) Caps() media.Caps {
	return media.Caps{
		PixelFormat:  media.PixelFormatI420,
		Width:        c.OutputWidth,
		Height:       c.OutputHeight,
		FrameRateNum: c.FrameRateNum,
		FrameRateDen: c.FrameRateDen,
		Colorimetry:  media.Colorimetry{Range: "limited", Matrix: "bt709"},
	}
}

func (c Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutMs) * time.Millisecond
}

func (c Config) ResumeThreshold() time.Duration {
	return time.Duration(c.ResumeThresholdMs) * time.Millisecond
}

func (c Config) NoSignalTimeout() time.Duration {
	return time.Duration(c.NoSignalTimeoutMs) * time.Millisecond
}

func (c Config) JitterBuffer() time.Duration {
	return time.Duration(c.JitterBufferMs) * time.Millisecond
}

func (c Config) MaxQueue() time.Duration {
	return time.Duration(c.MaxQueueMs) * time.Millisecond
}

// Validate rejects combinations Parse's flag types can't catch on their own
// (bad enum strings, non-positive dimensions).
func (c Config) Validate() error {
	if c.OutputWidth <= 0 || c.OutputHeight <= 0 {
		return fmt.Errorf("config: width/height must be positive, got %dx%d", c.OutputWidth, c.OutputHeight)
	}
	if c.FrameRateNum <= 0 || c.FrameRateDen <= 0 {
		return fmt.Errorf("config: frame rate must be positive, got %d/%d", c.FrameRateNum, c.FrameRateDen)
	}
	if c.InputPort <= 0 || c.InputPort > 65535 {
		return fmt.Errorf("config: invalid input port %d", c.InputPort)
	}
	if c.OutputContainer == OutputContainerFile && strings.TrimSpace(c.OutputFilePath) == "" {
		return fmt.Errorf("config: -output-file is required when -output-container=file")
	}
	if c.StatsIntervalSeconds < 0 {
		return fmt.Errorf("config: stats interval cannot be negative")
	}
	return nil
}

// Parse builds a Config from args (typically os.Args[1:]), following
// cmd/server/main.go's declare-every-flag-in-one-place idiom. Flags left at
// their zero value fall back first to an environment variable, then to
// Default's value.
func Parse(args []string) (Config, error) {
	def := Default()
	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)

	inputPort := fs.Int("input-port", 0, "UDP port to receive MPEG-TS on")
	recvBuffer := fs.Int("recv-buffer-bytes", 0, "UDP OS-level receive buffer size in bytes")
	jitterMs := fs.Int("jitter-buffer-ms", 0, "elastic buffer minimum fill time in milliseconds")
	maxQueueMs := fs.Int("max-queue-ms", 0, "elastic buffer maximum hold time in milliseconds")

	width := fs.Int("width", 0, "canonical output width in pixels")
	height := fs.Int("height", 0, "canonical output height in pixels")
	fpsNum := fs.Int("fps-num", 0, "canonical output frame rate numerator")
	fpsDen := fs.Int("fps-den", 0, "canonical output frame rate denominator")
	bitrateKbps := fs.Int("bitrate-kbps", 0, "nominal output bitrate in kbps (informational; no encoder is built here)")
	keyframeInterval := fs.Int("keyframe-interval", 0, "key-frame interval in frames (informational; no encoder is built here)")

	outputCodec := fs.String("output-codec", "", "output codec: raw, h264, h265, vp8, vp9")
	outputContainer := fs.String("output-container", "", "output container: rtp, mpegts, shm, raw-udp, file")
	outputHost := fs.String("output-host", "", "destination host for RTP/MPEG-TS/raw-UDP output")
	outputPort := fs.Int("output-port", 0, "destination port for RTP/MPEG-TS/raw-UDP output")
	shmPath := fs.String("shm-path", "", "unix socket path for the shared-memory output sink")
	shmSize := fs.Int("shm-size-bytes", 0, "advisory shared-memory ring size in bytes")
	outputFile := fs.String("output-file", "", "output file path when -output-container=file")

	watchdogTimeoutMs := fs.Int("watchdog-timeout-ms", 0, "milliseconds of ingest silence before switching to fallback")
	resumeThresholdMs := fs.Int("resume-threshold-ms", 0, "milliseconds of sustained ingest flow before switching back")
	noSignalTimeoutMs := fs.Int("no-signal-timeout-ms", 0, "milliseconds the synchronizer trusts a cached frame before substituting fallback")

	statsInterval := fs.Int("stats-interval", -1, "seconds between stats log lines, 0 disables")
	verbose := fs.Bool("verbose", false, "enable debug-level logging")

	eventMirrorAddr := fs.String("event-mirror-redis-addr", "", "Redis address to mirror bus events to (empty disables)")
	controlPlaneAddr := fs.String("control-plane-addr", "", "HTTP/WebSocket status listen address (empty disables)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	cfg.InputPort = resolveInt(*inputPort, "RELAYD_INPUT_PORT", def.InputPort)
	cfg.RecvBufferBytes = resolveInt(*recvBuffer, "RELAYD_RECV_BUFFER_BYTES", def.RecvBufferBytes)
	cfg.JitterBufferMs = resolveInt(*jitterMs, "RELAYD_JITTER_BUFFER_MS", def.JitterBufferMs)
	cfg.MaxQueueMs = resolveInt(*maxQueueMs, "RELAYD_MAX_QUEUE_MS", def.MaxQueueMs)

	cfg.OutputWidth = resolveInt(*width, "RELAYD_WIDTH", def.OutputWidth)
	cfg.OutputHeight = resolveInt(*height, "RELAYD_HEIGHT", def.OutputHeight)
	cfg.FrameRateNum = resolveInt(*fpsNum, "RELAYD_FPS_NUM", def.FrameRateNum)
	cfg.FrameRateDen = resolveInt(*fpsDen, "RELAYD_FPS_DEN", def.FrameRateDen)
	cfg.BitrateKbps = resolveInt(*bitrateKbps, "RELAYD_BITRATE_KBPS", def.BitrateKbps)
	cfg.KeyframeInterval = resolveInt(*keyframeInterval, "RELAYD_KEYFRAME_INTERVAL", def.KeyframeInterval)

	if codec := firstNonEmpty(*outputCodec, os.Getenv("RELAYD_OUTPUT_CODEC")); codec != "" {
		parsed, err := parseOutputCodec(codec)
		if err != nil {
			return Config{}, err
		}
		cfg.OutputCodec = parsed
	}
	if container := firstNonEmpty(*outputContainer, os.Getenv("RELAYD_OUTPUT_CONTAINER")); container != "" {
		parsed, err := parseOutputContainer(container)
		if err != nil {
			return Config{}, err
		}
		cfg.OutputContainer = parsed
	}
	cfg.OutputHost = firstNonEmptyOr(*outputHost, "RELAYD_OUTPUT_HOST", def.OutputHost)
	cfg.OutputPort = resolveInt(*outputPort, "RELAYD_OUTPUT_PORT", def.OutputPort)
	cfg.SharedMemPath = firstNonEmptyOr(*shmPath, "RELAYD_SHM_PATH", def.SharedMemPath)
	cfg.SharedMemSize = resolveInt(*shmSize, "RELAYD_SHM_SIZE_BYTES", def.SharedMemSize)
	cfg.OutputFilePath = firstNonEmpty(*outputFile, os.Getenv("RELAYD_OUTPUT_FILE"))

	cfg.WatchdogTimeoutMs = resolveInt(*watchdogTimeoutMs, "RELAYD_WATCHDOG_TIMEOUT_MS", def.WatchdogTimeoutMs)
	cfg.ResumeThresholdMs = resolveInt(*resumeThresholdMs, "RELAYD_RESUME_THRESHOLD_MS", def.ResumeThresholdMs)
	cfg.NoSignalTimeoutMs = resolveInt(*noSignalTimeoutMs, "RELAYD_NO_SIGNAL_TIMEOUT_MS", def.NoSignalTimeoutMs)

	if *statsInterval >= 0 {
		cfg.StatsIntervalSeconds = *statsInterval
	} else if env := os.Getenv("RELAYD_STATS_INTERVAL"); env != "" {
		if parsed, err := strconv.Atoi(env); err == nil && parsed >= 0 {
			cfg.StatsIntervalSeconds = parsed
		}
	}
	cfg.Verbose = resolveBool(*verbose, "RELAYD_VERBOSE")

	cfg.EventMirrorRedisAddr = firstNonEmpty(*eventMirrorAddr, os.Getenv("RELAYD_EVENT_MIRROR_REDIS_ADDR"))
	cfg.ControlPlaneAddr = firstNonEmpty(*controlPlaneAddr, os.Getenv("RELAYD_CONTROL_PLANE_ADDR"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstNonEmptyOr(flagValue string, envKey, fallback string) string {
	if v := firstNonEmpty(flagValue, os.Getenv(envKey)); v != "" {
		return v
	}
	return fallback
}

func resolveInt(flagValue int, envKey string, fallback int) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
