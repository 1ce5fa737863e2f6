// Package ingest builds and rebuilds the live-ingest sub-graph: UDP
// receive, elastic (jitter) buffer, MPEG-TS demux, codec-aware decode, and
// normalization to the canonical output caps.
//
// Static prefix vs. dynamic suffix
//
// UDPReceive, ElasticBuffer and DiscardSink are created once and live for
// the process lifetime. TSDemux, the Decoder and the NormalizeStage form
// the dynamic suffix: they are torn down and rebuilt together, via
// Chain.RebuildDynamic, when the demux reports a codec change while a
// decoder already exists. A resolution change alone does not trigger a
// rebuild; NormalizeStage rescales it. Non-video elementary streams
// produced by the demux are routed to DiscardSink so they never
// back-pressure the parser.
//
// Codec detection and decode
//
// codecdetect.go classifies each video track the demux discovers by its
// codec type (H.264 or H.265; any other codec is reported as unsupported).
// The decoder itself is built on the first video sample, in
// Chain.handleVideoSample via buildDecoderLocked. PassthroughDecoder is the generic last-resort decoder named in the
// dynamic decode chain's design: concrete codec decoding is an external
// collaborator, not a concern of this package.
//
// Normalization
//
// NormalizeStage converts decoded frames to the canonical output caps
// (pixel format, width, height, frame rate) using a cheap nearest-neighbor
// scaler (scale.go) and a drop-only rate adapter. Its leaky queue (at most
// two entries) is accounting only: frames are handed downstream
// synchronously, to a single-slot store that never blocks.
//
// Concurrency
//
// Chain.RebuildDynamic must only run on the control goroutine; it is
// invoked by the supervisor, never by media-worker callbacks directly.
package ingest
