// Package pipeline implements the per-frame stage sequence (Decode,
// Render, Crop, EstimateQuality, Save) and the straight-line driver that
// runs it. Stages are pure transforms over a *ProcessingContext; the
// driver is the only place that decides ordering and failure handling.
package pipeline

import (
	"image"
	"image/color"

	"github.com/google/uuid"

	"luckyimaging/internal/opencv/safe"
	"luckyimaging/internal/settings"
	"luckyimaging/internal/source"
)

// Stage names a pipeline step. The ordering here is canonical and is what
// ProcessingContext.CompletedStages is checked against.
type Stage string

const (
	StageDecode          Stage = "Decode"
	StageRender          Stage = "Render"
	StageCrop            Stage = "Crop"
	StageEstimateQuality Stage = "EstimateQuality"
	StageSave            Stage = "Save"
)

// OverlayKind distinguishes the paint-overlay shapes Render/Crop can add.
type OverlayKind int

const (
	OverlaySolidRect OverlayKind = iota
	OverlayDottedRect
	OverlayText
)

// Overlay is one entry in a context's paint-overlay list, consumed by
// whatever GUI draws the rendered preview.
type Overlay struct {
	Kind  OverlayKind
	Rect  image.Rectangle
	Point image.Point
	Text  string
	Color color.RGBA
}

// ProcessingContext is the per-frame work packet carried through every
// stage. It is pool-managed: Pool.Acquire resets it, Pool.Release returns
// it to the free list. A context is never shared across two in-flight
// pipeline runs.
type ProcessingContext struct {
	// SubmissionID is a fresh identifier assigned on every Reset. The
	// coordinator's completion channel carries the context pointer itself,
	// so the coordinator does not consult this ID.
	SubmissionID uuid.UUID
	// MemoryTag attributes this context's Mat allocations for diagnostics.
	MemoryTag string
	// MemTracker receives allocation/deallocation notifications for every
	// Mat this context's stages create, keyed by MemoryTag-prefixed tags.
	// Nil is a valid tracker (untracked allocation), the default outside a
	// coordinator wired with a memory.Manager.
	MemTracker safe.MemoryTracker

	Settings *settings.Settings

	RawFrame source.RawFrame
	Decoder  source.Decoder

	Decoded      *safe.Mat // native depth, 1 or 3 channels
	DecodedFloat *safe.Mat // float, same channels as Decoded
	Grayscale    *safe.Mat // float, 1 channel

	CropRect    image.Rectangle
	CroppedMat  *safe.Mat // view/copy of Decoded restricted to CropRect

	BlurNoise  *safe.Mat
	BlurSignal *safe.Mat
	Quality    float64

	DoRender   bool
	OnlyRender bool

	Preview    *image.RGBA // 8-bit premultiplied ARGB preview
	HistR      []float64   // 256 bins
	HistG      []float64
	HistB      []float64
	Overlays   []Overlay

	Accepted bool

	// CroppedCopy is populated only in acceptance-rate mode: a deep copy
	// of the cropped region taken before the context returns to the pool,
	// so pool reuse cannot race with the deferred batch save.
	CroppedCopy *safe.Mat

	Filename string

	CompletedStages []Stage
	StageSuccess    bool
	ErrorStage      Stage
	ErrorMessage    string
}

// Reset restores ctx to the state Pool.Acquire must hand back: cleared
// stage bookkeeping and render flags, fresh settings binding. Mat fields
// are closed by the caller (Pool.Release) before Reset runs, since only
// the pool knows whether a given Mat is poolable or must be freed.
func (ctx *ProcessingContext) Reset(s *settings.Settings, memoryTag string, memTracker safe.MemoryTracker) {
	ctx.SubmissionID = uuid.New()
	ctx.MemoryTag = memoryTag
	ctx.MemTracker = memTracker
	ctx.Settings = s
	ctx.RawFrame = nil
	ctx.Decoder = nil
	ctx.Decoded = nil
	ctx.DecodedFloat = nil
	ctx.Grayscale = nil
	ctx.CropRect = image.Rectangle{}
	ctx.CroppedMat = nil
	ctx.BlurNoise = nil
	ctx.BlurSignal = nil
	ctx.Quality = 0
	ctx.DoRender = false
	ctx.OnlyRender = false
	ctx.Preview = nil
	ctx.HistR = nil
	ctx.HistG = nil
	ctx.HistB = nil
	ctx.Overlays = nil
	ctx.Accepted = false
	ctx.CroppedCopy = nil
	ctx.Filename = ""
	ctx.CompletedStages = ctx.CompletedStages[:0]
	ctx.StageSuccess = true
	ctx.ErrorStage = ""
	ctx.ErrorMessage = ""
}

// appendStage records entry into a stage. Every stage function calls this
// first, per the invariant that completed_stages names the failure site.
func (ctx *ProcessingContext) appendStage(s Stage) {
	ctx.CompletedStages = append(ctx.CompletedStages, s)
}

// fail records a stage failure. After fail is called the driver stops
// advancing the pipeline for this context.
func (ctx *ProcessingContext) fail(stage Stage, message string) {
	ctx.StageSuccess = false
	ctx.ErrorStage = stage
	ctx.ErrorMessage = message
}

// ReleaseMats closes every Mat this context owns. CroppedCopy is
// deliberately excluded: ownership of that buffer has already transferred
// to a QueuedImage by the time a context is released (see the coordinator's
// completion handler), so closing it here would double-free.
func (ctx *ProcessingContext) ReleaseMats() {
	for _, m := range []*safe.Mat{ctx.Decoded, ctx.DecodedFloat, ctx.Grayscale, ctx.CroppedMat, ctx.BlurNoise, ctx.BlurSignal} {
		if m != nil {
			m.Close()
		}
	}
}
