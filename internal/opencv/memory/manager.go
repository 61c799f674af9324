// Package memory estimates the pipeline's live Mat footprint so the
// coordinator can surface a memory-budget figure (spec.md §5) without
// every call site hand-tracking its own allocations. It implements
// safe.MemoryTracker, the hook safe.Mat already calls on construction and
// Close, so wiring it in is a matter of passing a *Manager wherever a
// ProcessingContext's MemTracker field is set.
package memory

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"luckyimaging/internal/logger"
)

// Manager tracks per-tag byte usage. Unlike the teacher's original design,
// which paired allocations to deallocations by pointer identity, this
// pairs them by tag: a safe.Mat's tag is stable across its lifetime, while
// the pointer value the tracker hooks receive is a copy's address that
// differs between construction and Close (see DESIGN.md). A per-tag FIFO
// of outstanding sizes recovers correct accounting without needing a
// stable identity.
type Manager struct {
	mu           sync.RWMutex
	logger       logger.Logger
	maxMemory    int64
	usedMemory   int64
	allocCount   int64
	deallocCount int64
	pending      map[string][]int64 // tag -> FIFO of outstanding allocation sizes
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewManager(log logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		logger:    log,
		maxMemory: 2 * 1024 * 1024 * 1024,
		pending:   make(map[string][]int64),
		ctx:       ctx,
		cancel:    cancel,
	}

	go manager.monitorMemory()
	return manager
}

// TrackAllocation implements safe.MemoryTracker. size is computed by the
// safe.Mat constructor from the Mat's dimensions and type; ptr is ignored,
// never used for correlation.
func (m *Manager) TrackAllocation(ptr uintptr, size int64, tag string) {
	m.mu.Lock()
	m.usedMemory += size
	m.allocCount++
	m.pending[tag] = append(m.pending[tag], size)
	used := m.usedMemory
	m.mu.Unlock()

	if used > m.maxMemory {
		runtime.GC()
	}
}

// TrackDeallocation implements safe.MemoryTracker. It pops the oldest
// outstanding size recorded for tag; same-tag allocations have
// indistinguishable identities from this interface's point of view, but
// same-tag Mats are also same-size in every call site that exists today,
// so FIFO order doesn't matter in practice.
func (m *Manager) TrackDeallocation(ptr uintptr, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sizes := m.pending[tag]
	if len(sizes) == 0 {
		return
	}
	size := sizes[0]
	m.pending[tag] = sizes[1:]
	if len(m.pending[tag]) == 0 {
		delete(m.pending, tag)
	}

	m.usedMemory -= size
	m.deallocCount++
}

func (m *Manager) GetUsedMemory() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usedMemory
}

func (m *Manager) GetStats() (allocCount, deallocCount int64, usedMemory int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocCount, m.deallocCount, m.usedMemory
}

// BudgetByKind sums bytes currently outstanding per allocation kind, where
// kind is everything in a tag after its per-context prefix (a tag of
// "ctx-42_decoded_float" buckets under "decoded_float"). This is the
// memory-budget estimate the coordinator can surface alongside its frame
// counters.
func (m *Manager) BudgetByKind() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byKind := make(map[string]int64, len(m.pending))
	for tag, sizes := range m.pending {
		var sum int64
		for _, s := range sizes {
			sum += s
		}
		byKind[tagKind(tag)] += sum
	}
	return byKind
}

func tagKind(tag string) string {
	parts := strings.SplitN(tag, "_", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return tag
}

func (m *Manager) monitorMemory() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performMonitoringCheck()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) performMonitoringCheck() {
	alloc, dealloc, used := m.GetStats()

	if m.logger != nil {
		m.logger.Debug("MemoryManager", "memory statistics", map[string]interface{}{
			"allocations":   alloc,
			"deallocations": dealloc,
			"used_bytes":    used,
		})
	}

	if used > m.maxMemory*8/10 {
		runtime.GC()
	}
}

func (m *Manager) Shutdown() {
	m.cancel()
	m.Cleanup()
}

// Cleanup logs and forgets every outstanding allocation. Meant for
// shutdown, after the coordinator has drained and every ProcessingContext
// has released its Mats; anything still pending at that point is a leak.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for tag, sizes := range m.pending {
		if m.logger != nil {
			m.logger.Warning("MemoryManager", "unreleased allocations at shutdown", map[string]interface{}{
				"tag":   tag,
				"count": len(sizes),
			})
		}
	}

	m.pending = make(map[string][]int64)
	m.usedMemory = 0
	runtime.GC()
}
