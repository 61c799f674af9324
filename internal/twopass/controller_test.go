package twopass

import (
	"context"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/safe"
	"luckyimaging/internal/pipeline"
	"luckyimaging/internal/settings"
	"luckyimaging/internal/source"
)

func TestPercentileThresholdPicksDescendingCutoff(t *testing.T) {
	cases := []struct {
		name       string
		qualities  []float64
		acceptance int
		want       float64
	}{
		{"empty", nil, 50, 0},
		{"keep top 40 percent of 5", []float64{1, 2, 3, 4, 5}, 40, 4},
		{"keep everything", []float64{1, 2, 3}, 100, 1},
		{"keep nothing clamps to the highest", []float64{1, 2, 3}, 0, 3},
		{"unsorted input is sorted first", []float64{5, 1, 3, 2, 4}, 40, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := percentileThreshold(tc.qualities, tc.acceptance)
			if got != tc.want {
				t.Errorf("percentileThreshold(%v, %d) = %v, want %v", tc.qualities, tc.acceptance, got, tc.want)
			}
		})
	}
}

type countingEncoder struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEncoder) EncodeToFile(path string, mat *safe.Mat) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return nil
}

func (e *countingEncoder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordingDownstream struct {
	mu          sync.Mutex
	processed   int
	stoppedSeen int
}

func (h *recordingDownstream) Ready()       {}
func (h *recordingDownstream) FrameMissed() {}
func (h *recordingDownstream) FrameProcessed(ctx *pipeline.ProcessingContext) {
	h.mu.Lock()
	h.processed++
	h.mu.Unlock()
}
func (h *recordingDownstream) Stopped() {
	h.mu.Lock()
	h.stoppedSeen++
	h.mu.Unlock()
}

func (h *recordingDownstream) processedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processed
}

func makeFrames(t *testing.T, n int) []*source.FakeFrame {
	t.Helper()
	frames := make([]*source.FakeFrame, n)
	for i := 0; i < n; i++ {
		m, err := safe.NewMat(8, 8, gocv.MatTypeCV8UC1)
		if err != nil {
			t.Fatalf("safe.NewMat: %v", err)
		}
		frames[i] = source.NewFakeFrame(m, time.Now(), i)
	}
	return frames
}

func TestNewRejectsSequentialAdapters(t *testing.T) {
	adapter := source.NewFakeAdapter(makeFrames(t, 1), true)
	_, err := New(adapter, &countingEncoder{}, nil, settings.Default(), 50, &recordingDownstream{})
	if err == nil {
		t.Fatal("expected an error constructing a Controller over a non-seekable adapter")
	}
}

func TestControllerRunsBothPassesThenStops(t *testing.T) {
	const frameCount = 6

	adapter := source.NewFakeAdapter(makeFrames(t, frameCount), false)
	encoder := &countingEncoder{}
	downstream := &recordingDownstream{}

	base := settings.Default()
	base.DoCrop = false
	base.SaveImages = false

	ctrl, err := New(adapter, encoder, nil, base, 50, downstream)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("two-pass run never completed")
	}

	if got := downstream.processedCount(); got != 2*frameCount {
		t.Errorf("downstream saw %d frame_processed events, want %d (two full passes)", got, 2*frameCount)
	}
	if downstream.stoppedSeen != 1 {
		t.Errorf("downstream saw %d stopped events, want exactly 1 (only the final stop, not pass 1's)", downstream.stoppedSeen)
	}
	if encoder.count() == 0 {
		t.Error("expected pass 2 to save at least one frame under filterType=minimumQuality, saveImages=true")
	}
}
