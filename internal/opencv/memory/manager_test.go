package memory

import "testing"

func TestTrackAllocationThenDeallocationZeroesUsage(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	m.TrackAllocation(0, 1024, "ctx-1_decoded")
	if got := m.GetUsedMemory(); got != 1024 {
		t.Fatalf("GetUsedMemory() = %d, want 1024", got)
	}

	m.TrackDeallocation(0, "ctx-1_decoded")
	if got := m.GetUsedMemory(); got != 0 {
		t.Fatalf("GetUsedMemory() after deallocation = %d, want 0", got)
	}
}

func TestTrackAllocationCorrelatesByTagNotPointer(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	// Two different tags, same (zero) pointer value — this is the case the
	// teacher's original pointer-identity scheme got wrong, since a Mat's
	// address at TrackAllocation and at TrackDeallocation are never equal.
	m.TrackAllocation(0, 100, "ctx-1_decoded")
	m.TrackAllocation(0, 200, "ctx-2_decoded")

	m.TrackDeallocation(0, "ctx-1_decoded")
	if got := m.GetUsedMemory(); got != 200 {
		t.Fatalf("GetUsedMemory() = %d, want 200 (only ctx-1's allocation freed)", got)
	}

	m.TrackDeallocation(0, "ctx-2_decoded")
	if got := m.GetUsedMemory(); got != 0 {
		t.Fatalf("GetUsedMemory() = %d, want 0", got)
	}
}

func TestBudgetByKindGroupsAcrossContexts(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	m.TrackAllocation(0, 100, "ctx-1_decoded_float")
	m.TrackAllocation(0, 150, "ctx-2_decoded_float")
	m.TrackAllocation(0, 50, "ctx-1_grayscale")

	budget := m.BudgetByKind()
	if budget["decoded_float"] != 250 {
		t.Errorf("decoded_float budget = %d, want 250", budget["decoded_float"])
	}
	if budget["grayscale"] != 50 {
		t.Errorf("grayscale budget = %d, want 50", budget["grayscale"])
	}
}

func TestDeallocationOfUnknownTagIsIgnored(t *testing.T) {
	m := NewManager(nil)
	defer m.Shutdown()

	// Should not panic or go negative.
	m.TrackDeallocation(0, "never-allocated")
	if got := m.GetUsedMemory(); got != 0 {
		t.Errorf("GetUsedMemory() = %d, want 0", got)
	}
}

func TestCleanupClearsPendingAndLogsNothingWithNilLogger(t *testing.T) {
	m := NewManager(nil)
	m.TrackAllocation(0, 64, "ctx-1_decoded")

	m.Cleanup() // must not panic even though logger is nil

	if got := m.GetUsedMemory(); got != 0 {
		t.Errorf("GetUsedMemory() after Cleanup = %d, want 0", got)
	}
	if budget := m.BudgetByKind(); len(budget) != 0 {
		t.Errorf("BudgetByKind() after Cleanup = %v, want empty", budget)
	}
}
