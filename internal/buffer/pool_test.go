package buffer

import (
	"testing"

	"luckyimaging/internal/settings"
)

func TestAcquireAllocatesThenReuses(t *testing.T) {
	p := New()
	s := settings.Default()

	first := p.Acquire(s)
	p.Release(first)
	second := p.Acquire(s)

	if first != second {
		t.Error("Acquire after Release should hand back the same pooled context")
	}

	stats := p.Stats()
	if stats.ContextsAllocated != 1 {
		t.Errorf("ContextsAllocated = %d, want 1", stats.ContextsAllocated)
	}
	if stats.ContextsReused != 1 {
		t.Errorf("ContextsReused = %d, want 1", stats.ContextsReused)
	}
}

func TestAcquireTracksLiveCount(t *testing.T) {
	p := New()
	s := settings.Default()

	a := p.Acquire(s)
	b := p.Acquire(s)
	if got := p.Stats().ContextsLive; got != 2 {
		t.Fatalf("ContextsLive = %d, want 2", got)
	}

	p.Release(a)
	if got := p.Stats().ContextsLive; got != 1 {
		t.Fatalf("ContextsLive after one release = %d, want 1", got)
	}

	p.Release(b)
	if got := p.Stats().ContextsLive; got != 0 {
		t.Fatalf("ContextsLive after both released = %d, want 0", got)
	}
}

func TestAcquireAssignsDistinctMemoryTags(t *testing.T) {
	p := New()
	s := settings.Default()

	a := p.Acquire(s)
	b := p.Acquire(s)

	if a.MemoryTag == b.MemoryTag {
		t.Errorf("two live contexts share MemoryTag %q", a.MemoryTag)
	}
	if a.MemoryTag == "" || b.MemoryTag == "" {
		t.Error("Acquire should assign a non-empty MemoryTag")
	}
}

func TestAcquireResetsPooledContext(t *testing.T) {
	p := New()
	s := settings.Default()

	ctx := p.Acquire(s)
	ctx.Filename = "stale.tiff"
	ctx.StageSuccess = false
	p.Release(ctx)

	reused := p.Acquire(s)
	if reused.Filename != "" {
		t.Errorf("Filename leaked across reuse: %q", reused.Filename)
	}
	if !reused.StageSuccess {
		t.Error("Reset should default StageSuccess to true")
	}
}

type fakeTracker struct {
	allocated   []string
	deallocated []string
}

func (f *fakeTracker) TrackAllocation(ptr uintptr, size int64, tag string) { f.allocated = append(f.allocated, tag) }
func (f *fakeTracker) TrackDeallocation(ptr uintptr, tag string)          { f.deallocated = append(f.deallocated, tag) }

func TestNewWithTrackerBindsContextsToTracker(t *testing.T) {
	tracker := &fakeTracker{}
	p := NewWithTracker(tracker)
	s := settings.Default()

	ctx := p.Acquire(s)
	if ctx.MemTracker != tracker {
		t.Error("Acquire on a tracked pool should bind ctx.MemTracker to the pool's tracker")
	}
}
