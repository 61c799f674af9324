package pipeline

import (
	"fmt"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/conversion"
	"luckyimaging/internal/opencv/safe"
)

// Decode converts ctx.RawFrame into decoded (native depth), decoded_float,
// and grayscale matrices. A decode failure is fatal for the frame: no
// later stage runs.
func Decode(ctx *ProcessingContext) {
	ctx.appendStage(StageDecode)

	decoded, err := ctx.Decoder.Decode(ctx.RawFrame)
	if err != nil {
		ctx.fail(StageDecode, fmt.Sprintf("decode: %v", err))
		return
	}

	decodedFloat, err := safe.NewMatWithTracker(decoded.Rows(), decoded.Cols(), floatTypeFor(decoded.Channels()), ctx.MemTracker, ctx.MemoryTag+"_decoded_float")
	if err != nil {
		decoded.Close()
		ctx.fail(StageDecode, fmt.Sprintf("alloc decoded_float: %v", err))
		return
	}
	if err := decoded.ConvertTo(decodedFloat, floatTypeFor(decoded.Channels())); err != nil {
		decoded.Close()
		decodedFloat.Close()
		ctx.fail(StageDecode, fmt.Sprintf("convert decoded_float: %v", err))
		return
	}

	if ctx.Settings.Negative {
		if err := invertInPlace(decodedFloat, negativeLimit(decoded)); err != nil {
			decoded.Close()
			decodedFloat.Close()
			ctx.fail(StageDecode, fmt.Sprintf("negative: %v", err))
			return
		}
	}

	gray8, err := conversion.ConvertToGrayscale(decoded)
	if err != nil {
		decoded.Close()
		decodedFloat.Close()
		ctx.fail(StageDecode, fmt.Sprintf("grayscale: %v", err))
		return
	}
	defer gray8.Close()

	grayFloat, err := safe.NewMatWithTracker(gray8.Rows(), gray8.Cols(), gocv.MatTypeCV32FC1, ctx.MemTracker, ctx.MemoryTag+"_grayscale")
	if err != nil {
		decoded.Close()
		decodedFloat.Close()
		ctx.fail(StageDecode, fmt.Sprintf("alloc grayscale: %v", err))
		return
	}
	if err := gray8.ConvertTo(grayFloat, gocv.MatTypeCV32FC1); err != nil {
		decoded.Close()
		decodedFloat.Close()
		grayFloat.Close()
		ctx.fail(StageDecode, fmt.Sprintf("convert grayscale: %v", err))
		return
	}

	ctx.Decoded = decoded
	ctx.DecodedFloat = decodedFloat
	ctx.Grayscale = grayFloat
}

func floatTypeFor(channels int) gocv.MatType {
	if channels == 3 {
		return gocv.MatTypeCV32FC3
	}
	return gocv.MatTypeCV32FC1
}

// negativeLimit picks the per-type inversion ceiling: fixed type maxima
// for integer depths, the observed per-matrix maximum for float sources.
func negativeLimit(mat *safe.Mat) float32 {
	switch mat.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
		return 255
	case gocv.MatTypeCV8SC1, gocv.MatTypeCV8SC3, gocv.MatTypeCV8SC4:
		return 127
	case gocv.MatTypeCV16UC1, gocv.MatTypeCV16UC3, gocv.MatTypeCV16UC4:
		return 65535
	case gocv.MatTypeCV16SC1, gocv.MatTypeCV16SC3, gocv.MatTypeCV16SC4:
		return 32767
	case gocv.MatTypeCV32SC1, gocv.MatTypeCV32SC3, gocv.MatTypeCV32SC4:
		return 2147483647
	default:
		_, maxVal := mat.MinMaxLoc()
		return maxVal
	}
}

// invertInPlace replaces every pixel p with limit-p, used by Decode's
// "negative" setting.
func invertInPlace(mat *safe.Mat, limit float32) error {
	srcMat := mat.GetMat()

	scalarMat := gocv.NewMatWithSize(srcMat.Rows(), srcMat.Cols(), srcMat.Type())
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.SetTo(&scalarMat, gocv.NewScalar(float64(limit), float64(limit), float64(limit), 0), mask)

	dst := gocv.NewMat()
	gocv.Subtract(scalarMat, srcMat, &dst)
	scalarMat.Close()

	mat.ReplaceMat(dst)
	return nil
}
