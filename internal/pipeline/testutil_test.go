package pipeline

import (
	"testing"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/safe"
)

// zeroMat explicitly sets every pixel to zero. gocv.NewMatWithSize doesn't
// guarantee zero-initialized memory, so tests that depend on an all-dark
// frame (no pixel clearing a threshold, no blur variance) zero it by hand
// rather than assuming fresh allocation already did.
func zeroMat(t *testing.T, m *safe.Mat) {
	t.Helper()
	mat := m.GetMat()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.SetTo(&mat, gocv.NewScalar(0, 0, 0, 0), mask)
}

// fakeCropPool allocates a fresh Mat on every acquire rather than pooling,
// since stage/driver tests care about Save's behavior, not buffer reuse.
type fakeCropPool struct{}

func (fakeCropPool) AcquireCroppedBuffer(rows, cols int, matType gocv.MatType) (*safe.Mat, error) {
	return safe.NewMat(rows, cols, matType)
}
