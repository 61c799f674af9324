package bridge

import (
	"fmt"
	"image"
	"image/color"

	"luckyimaging/internal/opencv/safe"
)

func MatToImage(mat *safe.Mat) (image.Image, error) {
	if err := safe.ValidateMatForOperation(mat, "MatToImage"); err != nil {
		return nil, err
	}

	rows := mat.Rows()
	cols := mat.Cols()
	channels := mat.Channels()

	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("Mat has zero dimensions: %dx%d", cols, rows)
	}

	switch channels {
	case 1:
		return matToGray(mat, rows, cols)
	case 3:
		return matToRGBA(mat, rows, cols)
	case 4:
		return matToRGBAWithAlpha(mat, rows, cols)
	default:
		return nil, fmt.Errorf("unsupported number of channels: %d", channels)
	}
}

// MatToPremultipliedARGB renders an 8-bit BGR or grayscale Mat into a
// premultiplied ARGB image.RGBA, matching Go's convention that image.RGBA
// pixels are alpha-premultiplied. Pixels whose 8-bit intensity is fully
// saturated (255 on every channel, or 255 for grayscale) are painted
// magenta when markClipped is set, mirroring the GUI's clipped-pixel
// highlight.
func MatToPremultipliedARGB(mat *safe.Mat, markClipped bool) (*image.RGBA, error) {
	if err := safe.ValidateMatForOperation(mat, "MatToPremultipliedARGB"); err != nil {
		return nil, err
	}

	rows, cols, channels := mat.Rows(), mat.Cols(), mat.Channels()
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))
	magenta := color.RGBA{R: 255, G: 0, B: 255, A: 255}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var r, g, b uint8
			clipped := false

			switch channels {
			case 1:
				v, err := mat.GetUCharAt(y, x)
				if err != nil {
					return nil, err
				}
				r, g, b = v, v, v
				clipped = markClipped && v == 255
			case 3:
				bb, err := mat.GetUCharAt3(y, x, 0)
				if err != nil {
					return nil, err
				}
				gg, err := mat.GetUCharAt3(y, x, 1)
				if err != nil {
					return nil, err
				}
				rr, err := mat.GetUCharAt3(y, x, 2)
				if err != nil {
					return nil, err
				}
				r, g, b = rr, gg, bb
				clipped = markClipped && r == 255 && g == 255 && b == 255
			default:
				return nil, fmt.Errorf("unsupported channel count for preview: %d", channels)
			}

			if clipped {
				img.SetRGBA(x, y, magenta)
			} else {
				// Fully opaque, so premultiplied and non-premultiplied
				// values coincide; alpha is always 255 for the preview.
				img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
			}
		}
	}

	return img, nil
}

func matToGray(mat *safe.Mat, rows, cols int) (*image.Gray, error) {
	img := image.NewGray(image.Rect(0, 0, cols, rows))

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			value, err := mat.GetUCharAt(y, x)
			if err != nil {
				return nil, fmt.Errorf("failed to get pixel at (%d,%d): %w", x, y, err)
			}
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}

	return img, nil
}

func matToRGBA(mat *safe.Mat, rows, cols int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			b, err := mat.GetUCharAt3(y, x, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to get B channel at (%d,%d): %w", x, y, err)
			}

			g, err := mat.GetUCharAt3(y, x, 1)
			if err != nil {
				return nil, fmt.Errorf("failed to get G channel at (%d,%d): %w", x, y, err)
			}

			r, err := mat.GetUCharAt3(y, x, 2)
			if err != nil {
				return nil, fmt.Errorf("failed to get R channel at (%d,%d): %w", x, y, err)
			}

			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}

	return img, nil
}

func matToRGBAWithAlpha(mat *safe.Mat, rows, cols int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			b, err := mat.GetUCharAt3(y, x, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to get B channel at (%d,%d): %w", x, y, err)
			}

			g, err := mat.GetUCharAt3(y, x, 1)
			if err != nil {
				return nil, fmt.Errorf("failed to get G channel at (%d,%d): %w", x, y, err)
			}

			r, err := mat.GetUCharAt3(y, x, 2)
			if err != nil {
				return nil, fmt.Errorf("failed to get R channel at (%d,%d): %w", x, y, err)
			}

			a, err := mat.GetUCharAt3(y, x, 3)
			if err != nil {
				return nil, fmt.Errorf("failed to get A channel at (%d,%d): %w", x, y, err)
			}

			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: a})
		}
	}

	return img, nil
}

