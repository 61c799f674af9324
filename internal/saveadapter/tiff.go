// Package saveadapter provides the default on-disk image encoder the Save
// stage writes through. It is the one out-of-scope collaborator
// (spec.md §1 "on-disk image encoding") this repo supplies a concrete
// implementation for, since the pack carries golang.org/x/image/tiff and
// nothing else in the domain stack needs a placeholder here.
package saveadapter

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"luckyimaging/internal/opencv/bridge"
	"luckyimaging/internal/opencv/safe"
)

// TiffEncoder implements pipeline.ImageEncoder by converting the Mat to an
// image.Image and writing it atomically (temp file + rename) so a crash
// mid-write never leaves a partial frame at the final path.
type TiffEncoder struct{}

func (TiffEncoder) EncodeToFile(path string, mat *safe.Mat) error {
	img, err := bridge.MatToImage(mat)
	if err != nil {
		return fmt.Errorf("saveadapter: convert Mat to image: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("saveadapter: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("saveadapter: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tiff.Encode(tmp, img, nil); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("saveadapter: encode tiff: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("saveadapter: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("saveadapter: rename into place: %w", err)
	}
	return nil
}
