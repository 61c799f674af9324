// Package source defines the pull/push contract the coordinator consumes
// to ingest frames. Concrete camera, video-file, and image-directory
// adapters are out of scope for this core; only the interface and a small
// in-memory fake (for tests) live here.
package source

import (
	"time"

	"luckyimaging/internal/opencv/safe"
)

// RawFrame is the opaque, source-specific byte payload handed to a
// Decoder. Ownership transfers from the source to whichever
// ProcessingContext admits it; the source must not reuse the backing
// bytes after handing a frame to the sink.
type RawFrame interface {
	Bytes() []byte
	CapturedAt() time.Time
	FrameOfSecond() int
}

// Decoder is a source-specific, stateful byte-to-pixel-matrix converter.
// A coordinator obtains one Decoder per source (via Adapter.NewDecoder)
// and reuses it across every frame that source emits.
type Decoder interface {
	Decode(frame RawFrame) (*safe.Mat, error)
}

// EventSink receives the push-direction events a source emits. The
// coordinator implements this and is the only consumer. A source may call
// these methods from a goroutine it owns or from the coordinator's own
// dispatcher goroutine; the coordinator hands every event to its
// dispatcher goroutine through a channel.
type EventSink interface {
	FrameReady(frame RawFrame)
	SourceError(err error)
	EndOfStream()
}

// Adapter is the full source contract consumed by the coordinator.
// Sequential (live) sources only honor push; seekable sources additionally
// support ReadFrame/Seek/NumberOfFrames for the pull direction and for the
// two-pass acceptance-rate controller's replay.
type Adapter interface {
	// Start begins emitting events to sink. Must be called at most once.
	Start(sink EventSink) error
	// Stop ends emission; safe to call multiple times.
	Stop() error
	// NewDecoder returns a decoder bound to this source's byte format.
	NewDecoder() Decoder
	// ReadFrame requests the next frame be pushed via EventSink.FrameReady.
	// Only non-sequential sources honor this; live sources treat it as a
	// no-op (they push on their own schedule).
	ReadFrame()
	// IsSequential reports whether the source is sequential (live), i.e.
	// cannot be seeked or replayed.
	IsSequential() bool
	// Seek repositions a non-sequential source to the given frame index.
	// Returns false for sequential sources or out-of-range indices.
	Seek(index int) bool
	// NumberOfFrames returns the frame count for a non-sequential source,
	// or 0 for a sequential one.
	NumberOfFrames() int
}
