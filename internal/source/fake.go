package source

import (
	"fmt"
	"time"

	"luckyimaging/internal/opencv/safe"
)

// FakeFrame is a RawFrame carrying an already-built Mat instead of encoded
// bytes, so tests never have to round-trip through an actual image codec.
type FakeFrame struct {
	mat       *safe.Mat
	capturedAt time.Time
	frameOfSec int
}

func NewFakeFrame(mat *safe.Mat, capturedAt time.Time, frameOfSecond int) *FakeFrame {
	return &FakeFrame{mat: mat, capturedAt: capturedAt, frameOfSec: frameOfSecond}
}

func (f *FakeFrame) Bytes() []byte         { return nil }
func (f *FakeFrame) CapturedAt() time.Time { return f.capturedAt }
func (f *FakeFrame) FrameOfSecond() int    { return f.frameOfSec }

// fakeDecoder hands back the Mat a FakeFrame already carries, cloned so
// the pipeline's ownership rules (context owns its decoded Mat) hold even
// though no real decode happened.
type fakeDecoder struct{}

func (fakeDecoder) Decode(frame RawFrame) (*safe.Mat, error) {
	ff, ok := frame.(*FakeFrame)
	if !ok {
		return nil, fmt.Errorf("source: fakeDecoder given non-FakeFrame %T", frame)
	}
	return ff.mat.Clone()
}

// FakeAdapter is an in-memory, optionally-seekable Adapter backed by a
// fixed slice of frames. It is test infrastructure only, grounded on the
// same role mock source adapters play in the pack's ports/mocks packages.
type FakeAdapter struct {
	frames     []*FakeFrame
	sequential bool
	sink       EventSink
	pos        int
	stopped    bool
}

// NewFakeAdapter builds an adapter over frames. sequential=false makes the
// adapter seekable (Seek/NumberOfFrames honored), matching a recorded
// video file; sequential=true models a live camera feed.
func NewFakeAdapter(frames []*FakeFrame, sequential bool) *FakeAdapter {
	return &FakeAdapter{frames: frames, sequential: sequential}
}

func (a *FakeAdapter) Start(sink EventSink) error {
	a.sink = sink
	a.stopped = false
	return nil
}

func (a *FakeAdapter) Stop() error {
	a.stopped = true
	return nil
}

func (a *FakeAdapter) NewDecoder() Decoder { return fakeDecoder{} }

// PushAll emits every remaining frame via FrameReady, then EndOfStream.
// Used by tests that want a "streaming" burst rather than pull-by-pull
// reads via ReadFrame.
func (a *FakeAdapter) PushAll() {
	for !a.stopped && a.pos < len(a.frames) {
		frame := a.frames[a.pos]
		a.pos++
		a.sink.FrameReady(frame)
	}
	a.sink.EndOfStream()
}

func (a *FakeAdapter) ReadFrame() {
	if a.stopped || a.sink == nil {
		return
	}
	if a.pos >= len(a.frames) {
		a.sink.EndOfStream()
		return
	}
	frame := a.frames[a.pos]
	a.pos++
	a.sink.FrameReady(frame)
}

func (a *FakeAdapter) IsSequential() bool { return a.sequential }

func (a *FakeAdapter) Seek(index int) bool {
	if a.sequential || index < 0 || index >= len(a.frames) {
		return false
	}
	a.pos = index
	return true
}

func (a *FakeAdapter) NumberOfFrames() int {
	if a.sequential {
		return 0
	}
	return len(a.frames)
}
