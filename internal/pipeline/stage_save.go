package pipeline

import (
	"fmt"
	"path/filepath"

	"luckyimaging/internal/settings"
)

// Save computes the canonical filename, decides whether to write to disk
// based on the active filter policy, and — for acceptance-rate mode with
// saving enabled — deep-copies the cropped region into a pooled buffer so
// the coordinator can batch it later without allocating a fresh Mat on
// every frame. With saving disabled there is nothing for the filter queue
// to ever flush, so no copy is made at all.
func Save(ctx *ProcessingContext, encoder ImageEncoder, cropPool CroppedBufferPool) {
	ctx.appendStage(StageSave)

	ctx.Filename = filename(ctx)
	ctx.Accepted = ctx.Quality >= ctx.Settings.MinimumQuality

	if ctx.Settings.FilterType == settings.FilterAcceptanceRate && ctx.Settings.SaveImages {
		buf, err := cropPool.AcquireCroppedBuffer(ctx.CroppedMat.Rows(), ctx.CroppedMat.Cols(), ctx.CroppedMat.Type())
		if err != nil {
			ctx.fail(StageSave, fmt.Sprintf("acquire cropped buffer for acceptance-rate queue: %v", err))
			return
		}
		if err := ctx.CroppedMat.CopyTo(buf); err != nil {
			ctx.fail(StageSave, fmt.Sprintf("deep copy for acceptance-rate queue: %v", err))
			return
		}
		ctx.CroppedCopy = buf
		return
	}

	doSave := false
	switch ctx.Settings.FilterType {
	case settings.FilterNone:
		doSave = ctx.Settings.SaveImages
	case settings.FilterMinimumQuality:
		doSave = ctx.Settings.SaveImages && ctx.Accepted
	}

	if !doSave {
		return
	}

	if err := encoder.EncodeToFile(ctx.Filename, ctx.CroppedMat); err != nil {
		ctx.fail(StageSave, fmt.Sprintf("encode/write: %v", err))
	}
}

func filename(ctx *ProcessingContext) string {
	ts := ctx.RawFrame.CapturedAt().UTC().Format("20060102-150405.000")
	ts = removeDot(ts)
	return filepath.Join(ctx.Settings.SaveImagesDirectory,
		fmt.Sprintf("frame-%s-%03d-q%s.tiff", ts, ctx.RawFrame.FrameOfSecond(), fmt.Sprintf("%.4g", ctx.Quality)))
}

// removeDot turns Go's ".000" millisecond separator into the spec's
// unseparated "HHMMSSmmm" form.
func removeDot(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
