package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := Default()
	s.SaveImages = true
	s.FilterType = FilterAcceptanceRate
	s.AcceptancePercent = 35

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := Save(path, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.SaveImages != s.SaveImages || loaded.FilterType != s.FilterType || loaded.AcceptancePercent != s.AcceptancePercent {
		t.Errorf("round trip mismatch: got %+v, want %+v", loaded, s)
	}
}

func TestLoadFillsOmittedKeysFromDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	partial := []byte("saveImages: true\n")
	if err := os.WriteFile(path, partial, 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	def := Default()
	if loaded.CropWidth != def.CropWidth {
		t.Errorf("CropWidth = %d, want default %d", loaded.CropWidth, def.CropWidth)
	}
	if !loaded.SaveImages {
		t.Error("SaveImages should have been read from the partial file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error loading a nonexistent file")
	}
}
