package filterqueue

import (
	"fmt"
	"testing"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/safe"
)

type fakeEncoder struct {
	written   []string
	failAfter int // fail on the (failAfter+1)th call; 0 disables failure
	calls     int
}

func (f *fakeEncoder) EncodeToFile(path string, mat *safe.Mat) error {
	f.calls++
	if f.failAfter > 0 && f.calls > f.failAfter {
		return fmt.Errorf("fakeEncoder: simulated failure")
	}
	f.written = append(f.written, path)
	return nil
}

func mustQueuedImage(t *testing.T, filename string, quality float64) QueuedImage {
	t.Helper()
	m, err := safe.NewMat(4, 4, gocv.MatTypeCV8UC1)
	if err != nil {
		t.Fatalf("safe.NewMat: %v", err)
	}
	return QueuedImage{Mat: m, Filename: filename, Quality: quality}
}

func TestFlushKeepsTopPercentByQuality(t *testing.T) {
	batch := []QueuedImage{
		mustQueuedImage(t, "q1.tiff", 1),
		mustQueuedImage(t, "q2.tiff", 2),
		mustQueuedImage(t, "q3.tiff", 3),
		mustQueuedImage(t, "q4.tiff", 4),
		mustQueuedImage(t, "q5.tiff", 5),
	}

	enc := &fakeEncoder{}
	result := Flush(batch, 40, enc)

	if len(result.Written) != 2 {
		t.Fatalf("Written = %d, want 2", len(result.Written))
	}
	if len(result.Dropped) != 3 {
		t.Fatalf("Dropped = %d, want 3", len(result.Dropped))
	}

	wantFiles := map[string]bool{"q4.tiff": true, "q5.tiff": true}
	for _, img := range result.Written {
		if !wantFiles[img.Filename] {
			t.Errorf("unexpected file written: %s", img.Filename)
		}
	}
}

func TestFlushAcceptanceBoundaries(t *testing.T) {
	batch := []QueuedImage{
		mustQueuedImage(t, "a.tiff", 1),
		mustQueuedImage(t, "b.tiff", 2),
		mustQueuedImage(t, "c.tiff", 3),
	}

	zero := Flush(batch, 0, &fakeEncoder{})
	if len(zero.Written) != 0 {
		t.Errorf("acceptance=0 wrote %d files, want 0", len(zero.Written))
	}

	full := Flush(batch, 100, &fakeEncoder{})
	if len(full.Written) != 3 {
		t.Errorf("acceptance=100 wrote %d files, want 3", len(full.Written))
	}
}

func TestFlushStopsOnFirstWriteFailure(t *testing.T) {
	batch := []QueuedImage{
		mustQueuedImage(t, "a.tiff", 1),
		mustQueuedImage(t, "b.tiff", 2),
		mustQueuedImage(t, "c.tiff", 3),
		mustQueuedImage(t, "d.tiff", 4),
	}

	enc := &fakeEncoder{failAfter: 1}
	result := Flush(batch, 100, enc)

	if result.Err == nil {
		t.Fatal("expected a write error")
	}
	if len(result.Written) != 1 {
		t.Errorf("Written = %d, want 1 (one success before the failure)", len(result.Written))
	}
	if len(result.Dropped) != 3 {
		t.Errorf("Dropped = %d, want 3 (the failed write plus everything after it)", len(result.Dropped))
	}
}

func TestQueueAppendLenDrain(t *testing.T) {
	var q Queue
	if q.Len() != 0 {
		t.Fatalf("new Queue Len() = %d, want 0", q.Len())
	}

	q.Append(mustQueuedImage(t, "a.tiff", 1))
	q.Append(mustQueuedImage(t, "b.tiff", 2))
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() returned %d items, want 2", len(drained))
	}
	if q.Len() != 0 {
		t.Errorf("Queue should be empty after Drain(), Len() = %d", q.Len())
	}
}

func TestAcceptCount(t *testing.T) {
	cases := []struct {
		n, percent, want int
	}{
		{5, 40, 2},
		{5, 0, 0},
		{5, 100, 5},
		{1, 1, 1},
		{0, 50, 0},
	}
	for _, tc := range cases {
		if got := acceptCount(tc.n, tc.percent); got != tc.want {
			t.Errorf("acceptCount(%d, %d) = %d, want %d", tc.n, tc.percent, got, tc.want)
		}
	}
}
