package pipeline

import (
	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/safe"
)

// ImageEncoder writes a cropped region to disk. Save delegates the actual
// encoding to this out-of-scope collaborator; internal/saveadapter
// provides the default TIFF implementation.
type ImageEncoder interface {
	EncodeToFile(path string, mat *safe.Mat) error
}

// CroppedBufferPool hands out reusable Mats for the acceptance-rate deep
// copy, keyed by the cropped region's own dimensions and pixel type, so
// repeated acceptance-rate frames reuse native Mat memory instead of
// allocating fresh on every one. internal/buffer's Pool implements this and
// is safe to call concurrently: Save acquires from a worker goroutine while
// the coordinator releases from its own dispatcher goroutine.
type CroppedBufferPool interface {
	AcquireCroppedBuffer(rows, cols int, matType gocv.MatType) (*safe.Mat, error)
}
