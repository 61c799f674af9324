// Package settings holds the persisted, string-keyed configuration surface
// that drives every pipeline stage and the coordinator's filtering policy.
package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterType selects which save-filtering policy the coordinator applies
// to a completed context.
type FilterType string

const (
	FilterNone           FilterType = "none"
	FilterMinimumQuality FilterType = "minimumQuality"
	FilterAcceptanceRate FilterType = "acceptanceRate"
)

// Estimator groups the two Gaussian-blur sigmas used by the EstimateQuality
// stage's signal/noise cascade.
type Estimator struct {
	NoiseSigma  float64 `yaml:"noiseSigma"`
	SignalSigma float64 `yaml:"signalSigma"`
}

// Settings is an immutable snapshot of the persisted configuration. A
// *Settings value is never mutated after construction; the coordinator
// replaces the shared pointer instead (see Coordinator.ApplySettings),
// matching the shared-pointer-swap policy in the concurrency model.
type Settings struct {
	Negative              bool      `yaml:"negative"`
	DoCrop                bool      `yaml:"doCrop"`
	CropWidth             int       `yaml:"cropWidth"`
	Threshold             float64   `yaml:"threshold"`
	MarkClipped           bool      `yaml:"markClipped"`
	LogarithmicHistograms bool      `yaml:"logarithmicHistograms"`
	EstimateQuality       bool      `yaml:"estimateQuality"`
	Estimator             Estimator `yaml:"estimator"`
	SaveImages            bool      `yaml:"saveImages"`
	SaveImagesDirectory   string    `yaml:"saveImagesDirectory"`
	FilterType            FilterType `yaml:"filterType"`
	MinimumQuality        float64   `yaml:"minimumQuality"`
	AcceptancePercent     int       `yaml:"acceptancePercent"`
	FilterQueueLength     int       `yaml:"filterQueueLength"`
}

// Default returns the conservative baseline: nothing destructive happens
// until a caller opts in (no saving, no cropping, quality estimation on).
func Default() *Settings {
	return &Settings{
		Negative:              false,
		DoCrop:                false,
		CropWidth:             128,
		Threshold:             128,
		MarkClipped:           false,
		LogarithmicHistograms: false,
		EstimateQuality:       true,
		Estimator: Estimator{
			NoiseSigma:  1.0,
			SignalSigma: 3.0,
		},
		SaveImages:          false,
		SaveImagesDirectory: ".",
		FilterType:          FilterNone,
		MinimumQuality:      0,
		AcceptancePercent:   50,
		FilterQueueLength:   16,
	}
}

// Clone returns a deep copy. Use this, never in-place mutation, whenever a
// new snapshot needs to be installed (the save-failure downgrade path is
// the canonical caller).
func (s *Settings) Clone() *Settings {
	clone := *s
	return &clone
}

// WithSaveImagesDisabled returns a clone with saving turned off. This is
// the automatic downgrade the coordinator applies after a Save failure.
func (s *Settings) WithSaveImagesDisabled() *Settings {
	clone := s.Clone()
	clone.SaveImages = false
	return clone
}

// Apply mutates a *copy* of s according to a single persisted key=value
// pair and returns it, leaving s untouched — callers install the result as
// a new snapshot rather than mutating in place.
func (s *Settings) Apply(key string, value string) (*Settings, error) {
	clone := s.Clone()

	switch key {
	case "negative":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("settings: negative: %w", err)
		}
		clone.Negative = b
	case "doCrop":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("settings: doCrop: %w", err)
		}
		clone.DoCrop = b
	case "cropWidth":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("settings: cropWidth: %w", err)
		}
		clone.CropWidth = n
	case "threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("settings: threshold: %w", err)
		}
		clone.Threshold = f
	case "markClipped":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("settings: markClipped: %w", err)
		}
		clone.MarkClipped = b
	case "logarithmicHistograms":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("settings: logarithmicHistograms: %w", err)
		}
		clone.LogarithmicHistograms = b
	case "estimateQuality":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("settings: estimateQuality: %w", err)
		}
		clone.EstimateQuality = b
	case "estimator.noiseSigma":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("settings: estimator.noiseSigma: %w", err)
		}
		clone.Estimator.NoiseSigma = f
	case "estimator.signalSigma":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("settings: estimator.signalSigma: %w", err)
		}
		clone.Estimator.SignalSigma = f
	case "saveImages":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("settings: saveImages: %w", err)
		}
		clone.SaveImages = b
	case "saveImagesDirectory":
		clone.SaveImagesDirectory = value
	case "filterType":
		ft := FilterType(value)
		switch ft {
		case FilterNone, FilterMinimumQuality, FilterAcceptanceRate:
			clone.FilterType = ft
		default:
			return nil, fmt.Errorf("settings: filterType: unrecognized value %q", value)
		}
	case "minimumQuality":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("settings: minimumQuality: %w", err)
		}
		clone.MinimumQuality = f
	case "acceptancePercent":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("settings: acceptancePercent: %w", err)
		}
		if n < 0 || n > 100 {
			return nil, fmt.Errorf("settings: acceptancePercent: %d out of range [0,100]", n)
		}
		clone.AcceptancePercent = n
	case "filterQueueLength":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("settings: filterQueueLength: %w", err)
		}
		if n < 1 {
			return nil, fmt.Errorf("settings: filterQueueLength: must be >= 1, got %d", n)
		}
		clone.FilterQueueLength = n
	default:
		return nil, fmt.Errorf("settings: unrecognized key %q", key)
	}

	return clone, nil
}

// KnownKeys lists the full persisted key surface, in the order spec.md's
// settings table presents them. Useful for config-file round-tripping and
// for GUI/CLI shells that enumerate editable options.
func KnownKeys() []string {
	return []string{
		"negative", "doCrop", "cropWidth", "threshold", "markClipped",
		"logarithmicHistograms", "estimateQuality",
		"estimator.noiseSigma", "estimator.signalSigma",
		"saveImages", "saveImagesDirectory",
		"filterType", "minimumQuality", "acceptancePercent", "filterQueueLength",
	}
}

// ParseFilterType is a small convenience used by config loaders that read
// filterType as a case-insensitive string.
func ParseFilterType(s string) (FilterType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return FilterNone, nil
	case "minimumquality":
		return FilterMinimumQuality, nil
	case "acceptancerate":
		return FilterAcceptanceRate, nil
	default:
		return "", fmt.Errorf("settings: unrecognized filterType %q", s)
	}
}
