package pipeline

import (
	"image"
	"testing"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/safe"
	"luckyimaging/internal/settings"
)

func newCropCtx(t *testing.T, rows, cols int, brightAt *image.Point) *ProcessingContext {
	t.Helper()
	decoded, err := safe.NewMat(rows, cols, gocv.MatTypeCV8UC1)
	if err != nil {
		t.Fatalf("safe.NewMat decoded: %v", err)
	}
	gray, err := safe.NewMat(rows, cols, gocv.MatTypeCV32FC1)
	if err != nil {
		t.Fatalf("safe.NewMat gray: %v", err)
	}
	zeroMat(t, gray)
	if brightAt != nil {
		// A single bright pixel gives centroid() an unambiguous point to
		// crop around; every other pixel stays at zero.
		srcMat := gray.GetMat()
		srcMat.SetFloatAt(brightAt.Y, brightAt.X, 200)
	}
	return &ProcessingContext{
		Decoded:      decoded,
		Grayscale:    gray,
		StageSuccess: true,
	}
}

func TestCropFullFrameWhenDisabled(t *testing.T) {
	ctx := newCropCtx(t, 10, 10, nil)
	ctx.Settings = settings.Default()
	ctx.Settings.DoCrop = false

	Crop(ctx)

	if !ctx.StageSuccess {
		t.Fatalf("Crop failed: %s", ctx.ErrorMessage)
	}
	want := image.Rect(0, 0, 10, 10)
	if ctx.CropRect != want {
		t.Errorf("CropRect = %v, want %v", ctx.CropRect, want)
	}
	if ctx.CroppedMat == nil {
		t.Error("CroppedMat should be populated")
	}
}

func TestCropFailsWhenRectangleOutOfBounds(t *testing.T) {
	center := image.Pt(5, 5)
	ctx := newCropCtx(t, 10, 10, &center)
	ctx.Settings = settings.Default()
	ctx.Settings.DoCrop = true
	ctx.Settings.Threshold = 10
	ctx.Settings.CropWidth = 100 // far larger than the 10x10 frame

	Crop(ctx)

	if ctx.StageSuccess {
		t.Fatal("Crop should fail when the centered rectangle exceeds image bounds")
	}
	if ctx.ErrorStage != StageCrop {
		t.Errorf("ErrorStage = %q, want %q", ctx.ErrorStage, StageCrop)
	}
}

func TestCropFailsWhenNoPixelAboveThreshold(t *testing.T) {
	ctx := newCropCtx(t, 20, 20, nil) // all-zero grayscale
	ctx.Settings = settings.Default()
	ctx.Settings.DoCrop = true
	ctx.Settings.Threshold = 10
	ctx.Settings.CropWidth = 4

	Crop(ctx)

	if ctx.StageSuccess {
		t.Fatal("Crop should fail when no pixel clears the threshold (no centroid)")
	}
}

func TestCropCentersOnBrightRegion(t *testing.T) {
	bright := image.Pt(10, 10)
	ctx := newCropCtx(t, 20, 20, &bright)
	ctx.Settings = settings.Default()
	ctx.Settings.DoCrop = true
	ctx.Settings.Threshold = 10
	ctx.Settings.CropWidth = 4

	Crop(ctx)

	if !ctx.StageSuccess {
		t.Fatalf("Crop failed: %s", ctx.ErrorMessage)
	}
	want := image.Rect(8, 8, 12, 12)
	if ctx.CropRect != want {
		t.Errorf("CropRect = %v, want %v", ctx.CropRect, want)
	}
}
