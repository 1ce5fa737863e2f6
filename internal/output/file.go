package output

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// FileConfig configures the file output sink. Container choice (MP4 for
// H.26x, MKV for VP8/9, AVI for raw) is an external collaborator decision;
// this sink appends each frame's raw bytes to the file as-is, leaving
// container muxing to whatever process consumes the path afterward.
type FileConfig struct {
	Path string
}

// FileSink appends every frame's bytes to an open file.
type FileSink struct {
	cfg  FileConfig
	log  *slog.Logger
	node *graphcore.Node
	f    *os.File
}

// NewFileSink opens (creating/truncating) the configured path.
func NewFileSink(cfg FileConfig, log *slog.Logger) (*FileSink, error) {
	f, err := os.OpenFile(cfg.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("output: opening file sink %s: %w", cfg.Path, err)
	}
	return &FileSink{
		cfg:  cfg,
		log:  defaultLogger(log, "file-sink"),
		node: newSinkNode("file-sink"),
		f:    f,
	}, nil
}

func (s *FileSink) Node() *graphcore.Node { return s.node }

func (s *FileSink) Write(f *media.Frame) error {
	if _, err := s.f.Write(f.Data); err != nil {
		return fmt.Errorf("output: file sink write: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	return s.f.Close()
}
