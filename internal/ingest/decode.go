package ingest

import (
	"log/slog"
	"time"

	"github.com/signalkeep/relay/internal/graphcore"
	"github.com/signalkeep/relay/internal/media"
)

// Decoder is the dynamic decode chain's pluggable boundary (spec §4.4: "a
// codec-specific parser followed by a decoder" — an external collaborator
// by design; spec §1 lists "the concrete media-framework element library
// (demuxers, parsers, decoders, encoders...)" as explicitly out of scope).
// A concrete Decoder owns one access unit's worth of compressed bytes per
// Push call and emits zero or more raw frames via its OnFrame callback.
type Decoder interface {
	Node() *graphcore.Node
	Codec() VideoCodec
	SetOnFrame(func(*media.Frame))
	Push(pts, dts time.Duration, data []byte, keyframe bool) error
}

// PassthroughDecoder is the "generic try-any-decoder" element named as a
// last resort in spec §4.4 step 2. It performs no actual decompression: it
// wraps each access unit as a Frame whose Data is still compressed bytes,
// tagged with the caps the operator configured the pipeline for. It exists
// so the graph-rebuild and frame-synchronizer machinery can be fully
// exercised end to end without bundling a concrete H.264/H.265 decoder,
// which is this system's explicit non-goal.
type PassthroughDecoder struct {
	node    *graphcore.Node
	codec   VideoCodec
	caps    media.Caps
	onFrame func(*media.Frame)
	log     *slog.Logger
}

// NewPassthroughDecoder builds a decode-chain node sized (in the sense of
// spec §4.4 step 2) for codec, tagging every emitted Frame with caps.
func NewPassthroughDecoder(codec VideoCodec, caps media.Caps, log *slog.Logger) *PassthroughDecoder {
	if log == nil {
		log = slog.Default()
	}
	n := graphcore.NewNode("decode-"+string(codec), graphcore.RoleDecodeChain)
	n.AddEndpoint("sink", graphcore.DirectionSink)
	n.AddEndpoint("src", graphcore.DirectionSource)
	n.SetState(graphcore.NodeStatePlaying)
	return &PassthroughDecoder{node: n, codec: codec, caps: caps, log: log.With("component", "decode-chain", "codec", string(codec))}
}

func (p *PassthroughDecoder) Node() *graphcore.Node  { return p.node }
func (p *PassthroughDecoder) Codec() VideoCodec       { return p.codec }
func (p *PassthroughDecoder) SetOnFrame(f func(*media.Frame)) { p.onFrame = f }

func (p *PassthroughDecoder) Push(pts, dts time.Duration, data []byte, keyframe bool) error {
	if p.onFrame == nil {
		return nil
	}
	f := media.NewFrame(p.caps, data, keyframe)
	f = f.WithTimestamps(pts, dts, 0)
	p.onFrame(f)
	return nil
}
