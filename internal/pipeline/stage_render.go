package pipeline

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/bridge"
	"luckyimaging/internal/opencv/conversion"
	"luckyimaging/internal/opencv/safe"
)

const histogramBins = 256

// Render produces the preview image, the per-channel histogram, and any
// clipped-pixel marking. It only runs when ctx.DoRender is set; callers
// skip it entirely otherwise (the pipeline driver enforces this).
func Render(ctx *ProcessingContext) {
	ctx.appendStage(StageRender)

	eightBit, err := to8BitBGR(ctx.Decoded)
	if err != nil {
		ctx.fail(StageRender, fmt.Sprintf("prepare 8-bit BGR: %v", err))
		return
	}
	defer eightBit.Close()

	preview, err := bridge.MatToPremultipliedARGB(eightBit, ctx.Settings.MarkClipped)
	if err != nil {
		ctx.fail(StageRender, fmt.Sprintf("render preview: %v", err))
		return
	}
	ctx.Preview = preview

	histR, histG, histB, err := computeHistograms(eightBit, ctx.Settings.LogarithmicHistograms)
	if err != nil {
		ctx.fail(StageRender, fmt.Sprintf("histogram: %v", err))
		return
	}
	ctx.HistR, ctx.HistG, ctx.HistB = histR, histG, histB
}

// to8BitBGR returns an 8-bit, 3-channel Mat suitable for preview rendering
// and histogram binning. 16-bit sources use their high byte (a /256
// scale); float sources scale by the observed per-matrix maximum. Already
// 8-bit sources are converted to BGR only.
func to8BitBGR(mat *safe.Mat) (*safe.Mat, error) {
	bgr, err := conversion.ConvertToBGR(mat)
	if err != nil {
		return nil, err
	}

	switch bgr.Type() {
	case gocv.MatTypeCV8UC3:
		return bgr, nil
	case gocv.MatTypeCV16UC3:
		defer bgr.Close()
		return scaleTo8Bit(bgr, 1.0/256.0)
	case gocv.MatTypeCV32FC3:
		defer bgr.Close()
		_, maxVal := bgr.MinMaxLoc()
		if maxVal <= 0 {
			maxVal = 1
		}
		return scaleTo8Bit(bgr, 255.0/float64(maxVal))
	default:
		bgr.Close()
		return nil, fmt.Errorf("unsupported Mat type for render: %v", bgr.Type())
	}
}

func scaleTo8Bit(src *safe.Mat, scale float64) (*safe.Mat, error) {
	srcMat := src.GetMat()
	dst := gocv.NewMat()
	srcMat.ConvertToWithParams(&dst, gocv.MatTypeCV8UC3, float32(scale), 0)
	return safe.NewMatFromMat(dst)
}

func computeHistograms(eightBitBGR *safe.Mat, logarithmic bool) (r, g, b []float64, err error) {
	mat := eightBitBGR.GetMat()

	channels := []struct {
		index int
		dst   *[]float64
	}{
		{0, &b},
		{1, &g},
		{2, &r},
	}

	mask := gocv.NewMat()
	defer mask.Close()

	for _, c := range channels {
		hist := gocv.NewMat()
		gocv.CalcHist([]gocv.Mat{mat}, []int{c.index}, mask, &hist, []int{histogramBins}, []float64{0, 256}, false)

		bins := make([]float64, histogramBins)
		for i := 0; i < histogramBins; i++ {
			count := float64(hist.GetFloatAt(i, 0))
			if logarithmic {
				count = math.Log2(count + 1)
			}
			bins[i] = count
		}
		hist.Close()
		*c.dst = bins
	}

	return r, g, b, nil
}
