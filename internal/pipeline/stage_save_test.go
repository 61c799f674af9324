package pipeline

import (
	"fmt"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/safe"
	"luckyimaging/internal/settings"
	"luckyimaging/internal/source"
)

type recordingEncoder struct {
	paths []string
	err   error
}

func (e *recordingEncoder) EncodeToFile(path string, mat *safe.Mat) error {
	if e.err != nil {
		return e.err
	}
	e.paths = append(e.paths, path)
	return nil
}

func newSaveCtx(t *testing.T, s *settings.Settings, quality float64) *ProcessingContext {
	t.Helper()
	cropped, err := safe.NewMat(4, 4, gocv.MatTypeCV8UC3)
	if err != nil {
		t.Fatalf("safe.NewMat: %v", err)
	}
	return &ProcessingContext{
		Settings:     s,
		CroppedMat:   cropped,
		Quality:      quality,
		RawFrame:     source.NewFakeFrame(nil, time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.UTC), 7),
		StageSuccess: true,
	}
}

func TestSaveUnderFilterNoneWritesWhenSaveImagesEnabled(t *testing.T) {
	s := settings.Default()
	s.FilterType = settings.FilterNone
	s.SaveImages = true
	ctx := newSaveCtx(t, s, 5)

	enc := &recordingEncoder{}
	Save(ctx, enc, fakeCropPool{})

	if !ctx.StageSuccess {
		t.Fatalf("Save failed: %s", ctx.ErrorMessage)
	}
	if len(enc.paths) != 1 {
		t.Fatalf("encoder called %d times, want 1", len(enc.paths))
	}
}

func TestSaveUnderFilterNoneSkipsWhenSaveImagesDisabled(t *testing.T) {
	s := settings.Default()
	s.FilterType = settings.FilterNone
	s.SaveImages = false
	ctx := newSaveCtx(t, s, 5)

	enc := &recordingEncoder{}
	Save(ctx, enc, fakeCropPool{})

	if !ctx.StageSuccess {
		t.Fatalf("Save failed: %s", ctx.ErrorMessage)
	}
	if len(enc.paths) != 0 {
		t.Errorf("encoder called %d times, want 0 when save_images is disabled", len(enc.paths))
	}
}

func TestSaveUnderMinimumQualityOnlyWritesAcceptedFrames(t *testing.T) {
	s := settings.Default()
	s.FilterType = settings.FilterMinimumQuality
	s.SaveImages = true
	s.MinimumQuality = 10

	below := newSaveCtx(t, s, 5)
	enc := &recordingEncoder{}
	Save(below, enc, fakeCropPool{})
	if below.Accepted {
		t.Error("quality below threshold should not be Accepted")
	}
	if len(enc.paths) != 0 {
		t.Errorf("encoder called for a below-threshold frame, want 0 calls")
	}

	above := newSaveCtx(t, s, 15)
	Save(above, enc, fakeCropPool{})
	if !above.Accepted {
		t.Error("quality above threshold should be Accepted")
	}
	if len(enc.paths) != 1 {
		t.Errorf("encoder called %d times for an above-threshold frame, want 1", len(enc.paths))
	}
}

func TestSaveUnderAcceptanceRateDeepCopiesInsteadOfWriting(t *testing.T) {
	s := settings.Default()
	s.FilterType = settings.FilterAcceptanceRate
	s.SaveImages = true
	ctx := newSaveCtx(t, s, 5)

	enc := &recordingEncoder{}
	Save(ctx, enc, fakeCropPool{})

	if !ctx.StageSuccess {
		t.Fatalf("Save failed: %s", ctx.ErrorMessage)
	}
	if len(enc.paths) != 0 {
		t.Errorf("acceptance-rate mode should never call the encoder directly, got %d calls", len(enc.paths))
	}
	if ctx.CroppedCopy == nil {
		t.Error("acceptance-rate mode should populate CroppedCopy for the coordinator's batch queue")
	}
}

func TestSaveUnderAcceptanceRateWithSaveImagesDisabledSkipsCopy(t *testing.T) {
	s := settings.Default()
	s.FilterType = settings.FilterAcceptanceRate
	s.SaveImages = false
	ctx := newSaveCtx(t, s, 5)

	enc := &recordingEncoder{}
	Save(ctx, enc, fakeCropPool{})

	if !ctx.StageSuccess {
		t.Fatalf("Save failed: %s", ctx.ErrorMessage)
	}
	if len(enc.paths) != 0 {
		t.Errorf("acceptance-rate mode should never call the encoder directly, got %d calls", len(enc.paths))
	}
	if ctx.CroppedCopy != nil {
		t.Error("with save_images disabled there is nothing to ever flush, so Save must not clone CroppedMat at all")
	}
}

func TestSaveFailsWhenEncoderErrors(t *testing.T) {
	s := settings.Default()
	s.FilterType = settings.FilterNone
	s.SaveImages = true
	ctx := newSaveCtx(t, s, 5)

	enc := &recordingEncoder{err: fmt.Errorf("disk full")}
	Save(ctx, enc, fakeCropPool{})

	if ctx.StageSuccess {
		t.Fatal("Save should fail when the encoder errors")
	}
	if ctx.ErrorStage != StageSave {
		t.Errorf("ErrorStage = %q, want %q", ctx.ErrorStage, StageSave)
	}
}

func TestFilenameFormatStripsMillisecondSeparator(t *testing.T) {
	s := settings.Default()
	ctx := newSaveCtx(t, s, 12.5)
	ctx.Settings.SaveImagesDirectory = "/out"

	got := filename(ctx)
	want := "/out/frame-20260102-030405600-007-q12.5.tiff"
	if got != want {
		t.Errorf("filename() = %q, want %q", got, want)
	}
}
