// Package buffer implements the bounded free-list pools for
// ProcessingContext objects and for the cropped-image Mats used by
// acceptance-rate batching. The ProcessingContext list is deliberately not
// goroutine-safe — only the coordinator's dispatcher goroutine is permitted
// to touch it (spec.md §5's shared-resource policy: no locks needed because
// nothing else ever reaches in). The cropped-buffer list is different: Save
// acquires from it on a worker goroutine and the dispatcher releases back
// to it once a flushed batch closes out, so it carries its own mutex.
package buffer

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"luckyimaging/internal/opencv/safe"
	"luckyimaging/internal/pipeline"
	"luckyimaging/internal/settings"
)

// Stats mirrors the teacher's memory.Manager alloc/dealloc counters,
// generalized from "Mat allocations" to "pool acquisitions" so the
// coordinator can report the §5 memory-budget estimate.
type Stats struct {
	ContextsAllocated int64
	ContextsReused    int64
	ContextsLive      int64
}

// cropBufKey identifies a cropped-buffer free list by the exact shape a Mat
// must have to be reused without a reallocation.
type cropBufKey struct {
	rows, cols int
	matType    gocv.MatType
}

// Pool is a bounded free list per buffer kind. There is no eviction: in
// steady state its size settles at peak in-flight concurrency.
type Pool struct {
	contextFree []*pipeline.ProcessingContext
	nextTag     int64
	stats       Stats
	tracker     safe.MemoryTracker

	cropMu   sync.Mutex
	cropFree map[cropBufKey][]*safe.Mat
}

func New() *Pool {
	return &Pool{}
}

// NewWithTracker builds a Pool that attributes every acquired context's Mat
// allocations to tracker (typically a *memory.Manager), so the coordinator
// can report a per-kind memory budget alongside its frame counters.
func NewWithTracker(tracker safe.MemoryTracker) *Pool {
	return &Pool{tracker: tracker}
}

// Acquire returns a reset ProcessingContext bound to s, reusing a pooled
// instance when one is free.
func (p *Pool) Acquire(s *settings.Settings) *pipeline.ProcessingContext {
	var ctx *pipeline.ProcessingContext

	if n := len(p.contextFree); n > 0 {
		ctx = p.contextFree[n-1]
		p.contextFree = p.contextFree[:n-1]
		p.stats.ContextsReused++
	} else {
		ctx = &pipeline.ProcessingContext{}
		p.stats.ContextsAllocated++
	}

	p.nextTag++
	ctx.Reset(s, fmt.Sprintf("ctx-%d", p.nextTag), p.tracker)
	p.stats.ContextsLive++
	return ctx
}

// Release closes every Mat the context owns (except CroppedCopy, whose
// ownership has already moved to the filter queue when applicable — see
// ProcessingContext's field docs) and returns the context to the free
// list.
func (p *Pool) Release(ctx *pipeline.ProcessingContext) {
	ctx.ReleaseMats()
	p.contextFree = append(p.contextFree, ctx)
	p.stats.ContextsLive--
}

func (p *Pool) Stats() Stats { return p.stats }

// AcquireCroppedBuffer returns a Mat sized rows x cols x matType for the
// acceptance-rate deep copy, reusing a pooled instance of that exact shape
// when one is free instead of allocating fresh on every frame. Save calls
// this from a worker goroutine, so unlike Acquire/Release above it takes a
// lock.
func (p *Pool) AcquireCroppedBuffer(rows, cols int, matType gocv.MatType) (*safe.Mat, error) {
	key := cropBufKey{rows, cols, matType}

	p.cropMu.Lock()
	if free := p.cropFree[key]; len(free) > 0 {
		mat := free[len(free)-1]
		p.cropFree[key] = free[:len(free)-1]
		p.cropMu.Unlock()
		return mat, nil
	}
	p.cropMu.Unlock()

	return safe.NewMatWithTracker(rows, cols, matType, p.tracker, fmt.Sprintf("cropbuf-%dx%dx%d", rows, cols, int(matType)))
}

// ReleaseCroppedBuffer returns mat to the free list keyed by its own
// dimensions and type instead of closing it, matching spec.md's "buffers
// are returned to the image-buffer pool on completion" — the coordinator
// calls this once a flushed batch's writes and drops both close out.
func (p *Pool) ReleaseCroppedBuffer(mat *safe.Mat) {
	if mat == nil {
		return
	}
	key := cropBufKey{mat.Rows(), mat.Cols(), mat.Type()}

	p.cropMu.Lock()
	defer p.cropMu.Unlock()
	if p.cropFree == nil {
		p.cropFree = make(map[cropBufKey][]*safe.Mat)
	}
	p.cropFree[key] = append(p.cropFree[key], mat)
}
