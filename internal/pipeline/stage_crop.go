package pipeline

import (
	"image"
	"image/color"

	"luckyimaging/internal/opencv/safe"
)

// Crop computes the crop rectangle. When cropping is disabled the
// rectangle covers the full frame. When enabled, the rectangle is a
// crop-width square centered on the centroid of thresholded grayscale
// pixels; a rectangle that would extend outside the image is a stage
// failure, not a clamp.
func Crop(ctx *ProcessingContext) {
	ctx.appendStage(StageCrop)

	rows, cols := ctx.Grayscale.Rows(), ctx.Grayscale.Cols()

	if !ctx.Settings.DoCrop {
		ctx.CropRect = image.Rect(0, 0, cols, rows)
		finishCrop(ctx)
		return
	}

	cx, cy, err := centroid(ctx.Grayscale, ctx.Settings.Threshold)
	if err != nil {
		ctx.fail(StageCrop, "Crop rectangle out of image bounds")
		addOutOfBoundsOverlay(ctx)
		return
	}

	half := ctx.Settings.CropWidth / 2
	rect := image.Rect(cx-half, cy-half, cx-half+ctx.Settings.CropWidth, cy-half+ctx.Settings.CropWidth)

	if rect.Min.X < 0 || rect.Min.Y < 0 || rect.Max.X > cols || rect.Max.Y > rows {
		ctx.fail(StageCrop, "Crop rectangle out of image bounds")
		addOutOfBoundsOverlay(ctx)
		return
	}

	ctx.CropRect = rect
	if ctx.DoRender {
		ctx.Overlays = append(ctx.Overlays,
			Overlay{Kind: OverlaySolidRect, Rect: rect, Color: color.RGBA{A: 255}},
			Overlay{Kind: OverlayDottedRect, Rect: rect, Color: color.RGBA{R: 255, G: 255, B: 255, A: 255}},
		)
	}

	finishCrop(ctx)
}

func addOutOfBoundsOverlay(ctx *ProcessingContext) {
	if !ctx.DoRender {
		return
	}
	ctx.Overlays = append(ctx.Overlays, Overlay{
		Kind:  OverlayText,
		Point: image.Pt(10, 20),
		Text:  "Out of bounds!",
		Color: color.RGBA{R: 255, A: 255},
	})
}

// finishCrop extracts the cropped region from the native-depth decoded
// matrix for downstream stages (EstimateQuality reads decoded_float
// directly and is unaffected; Save and the acceptance-rate deep copy both
// consume CroppedMat).
func finishCrop(ctx *ProcessingContext) {
	region, err := ctx.Decoded.Region(ctx.CropRect)
	if err != nil {
		ctx.fail(StageCrop, "Crop rectangle out of image bounds")
		addOutOfBoundsOverlay(ctx)
		return
	}
	ctx.CroppedMat = region
}

// centroid returns the pixel-space centroid of every grayscale pixel above
// threshold, or an error if no pixel qualifies (a degenerate all-dark
// frame has no centroid to crop around).
func centroid(gray *safe.Mat, threshold float64) (x, y int, err error) {
	rows, cols := gray.Rows(), gray.Cols()

	var sumX, sumY, count float64
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			v, gerr := gray.GetFloatAt(row, col)
			if gerr != nil {
				return 0, 0, gerr
			}
			if float64(v) > threshold {
				sumX += float64(col)
				sumY += float64(row)
				count++
			}
		}
	}

	if count == 0 {
		return 0, 0, errNoCentroid
	}

	return int(sumX / count), int(sumY / count), nil
}

var errNoCentroid = cropError("no pixel above threshold")

type cropError string

func (e cropError) Error() string { return string(e) }
