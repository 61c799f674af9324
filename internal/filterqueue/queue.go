// Package filterqueue implements the acceptance-rate batching queue: it
// ranks buffered frames by quality and writes the top-N% without blocking
// the worker pool. Flushing is synchronous from this package's point of
// view; the coordinator is the one that runs Flush on a separate goroutine
// and treats "exactly one flush in flight" as its own bookkeeping.
package filterqueue

import (
	"sort"

	"luckyimaging/internal/opencv/safe"
	"luckyimaging/internal/pipeline"
)

// QueuedImage is a deep-copied cropped image awaiting a ranked batch
// write, owned by the queue until a flush drains it.
type QueuedImage struct {
	Mat      *safe.Mat
	Filename string
	Quality  float64
}

// Queue is an insertion-ordered list of QueuedImage. It is not
// goroutine-safe; like the buffer pool, only the coordinator's dispatcher
// goroutine touches it.
type Queue struct {
	items []QueuedImage
}

func (q *Queue) Append(img QueuedImage) {
	q.items = append(q.items, img)
}

func (q *Queue) Len() int { return len(q.items) }

// Drain empties the queue and returns everything it held, for handoff to
// an async flush task.
func (q *Queue) Drain() []QueuedImage {
	items := q.items
	q.items = nil
	return items
}

// Result reports what a Flush did, so the coordinator can return buffers
// to the image-buffer pool (written+dropped) and log per-batch counts.
type Result struct {
	Written []QueuedImage
	Dropped []QueuedImage
	Err     error
}

// Flush ranks batch by quality ascending, drops the bottom
// (100-acceptancePercent)%, and writes the rest through encoder. Exactly
// ceil(len(batch)*acceptancePercent/100) images are written, independent
// of input order, per the ranked-batch invariant. On the first write
// failure, Flush stops immediately; everything not yet written (including
// the image that failed) is reported back as dropped, and the coordinator
// downgrades settings exactly as it would for a per-frame Save failure.
func Flush(batch []QueuedImage, acceptancePercent int, encoder pipeline.ImageEncoder) Result {
	sorted := make([]QueuedImage, len(batch))
	copy(sorted, batch)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Quality < sorted[j].Quality })

	keep := acceptCount(len(sorted), acceptancePercent)
	dropStart := len(sorted) - keep
	if dropStart < 0 {
		dropStart = 0
	}

	dropped := sorted[:dropStart]
	toWrite := sorted[dropStart:]

	for i, img := range toWrite {
		if err := encoder.EncodeToFile(img.Filename, img.Mat); err != nil {
			return Result{
				Written: toWrite[:i],
				Dropped: append(append([]QueuedImage{}, dropped...), toWrite[i:]...),
				Err:     err,
			}
		}
	}

	return Result{Written: toWrite, Dropped: dropped}
}

// acceptCount returns ceil(n*percent/100).
func acceptCount(n, percent int) int {
	return (n*percent + 99) / 100
}
