package pipeline

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/safe"
)

// EstimateQuality computes a signal-to-noise-like ratio via two cascaded
// Gaussian blurs: quality = signal / noise, where noise is the energy
// removed by the first blur and signal is the energy removed by the
// second. Callers only invoke this when ctx.Settings.EstimateQuality is
// set; the driver enforces that.
func EstimateQuality(ctx *ProcessingContext) {
	ctx.appendStage(StageEstimateQuality)

	src := ctx.DecodedFloat.GetMat()
	noiseSigma := ctx.Settings.Estimator.NoiseSigma
	signalSigma := ctx.Settings.Estimator.SignalSigma

	if noiseSigma < 0 || signalSigma < 0 {
		ctx.fail(StageEstimateQuality, fmt.Sprintf("negative sigma: noise=%v signal=%v", noiseSigma, signalSigma))
		return
	}

	blurNoiseMat := gocv.NewMat()
	gocv.GaussianBlur(src, &blurNoiseMat, image.Point{}, noiseSigma, noiseSigma, gocv.BorderDefault)

	blurSignalMat := gocv.NewMat()
	gocv.GaussianBlur(blurNoiseMat, &blurSignalMat, image.Point{}, signalSigma, signalSigma, gocv.BorderDefault)

	noise := squaredEnergy(src, blurNoiseMat)
	signal := squaredEnergy(blurNoiseMat, blurSignalMat)

	blurNoise, err := safe.NewMatFromMat(blurNoiseMat)
	blurNoiseMat.Close()
	if err != nil {
		blurSignalMat.Close()
		ctx.fail(StageEstimateQuality, fmt.Sprintf("wrap blur_noise: %v", err))
		return
	}
	blurSignal, err := safe.NewMatFromMat(blurSignalMat)
	blurSignalMat.Close()
	if err != nil {
		ctx.fail(StageEstimateQuality, fmt.Sprintf("wrap blur_signal: %v", err))
		return
	}

	ctx.BlurNoise = blurNoise
	ctx.BlurSignal = blurSignal

	if noise == 0 {
		ctx.Quality = 0
		return
	}
	ctx.Quality = signal / noise
}

// squaredEnergy returns ||a-b||^2 summed over every channel, the dot
// product of the difference with itself.
func squaredEnergy(a, b gocv.Mat) float64 {
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.Subtract(a, b, &diff)

	squared := gocv.NewMat()
	defer squared.Close()
	gocv.Multiply(diff, diff, &squared)

	sum := gocv.Sum(squared)
	return sum.Val1 + sum.Val2 + sum.Val3 + sum.Val4
}
