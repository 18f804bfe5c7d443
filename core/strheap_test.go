package core

import "testing"

func TestStringHeapAllocateBumpsDown(t *testing.T) {
	h := NewStringHeap(64)
	a, ok := h.Allocate(10)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if len(a) != 10 {
		t.Fatalf("len(a) = %d, want 10", len(a))
	}
	if got := h.SpaceAvailable(); got != 64-alignUp(10) {
		t.Fatalf("space available = %d, want %d", got, 64-alignUp(10))
	}
	if !h.Contains(a) {
		t.Fatal("heap should contain its own allocation")
	}
}

func TestStringHeapExhaustion(t *testing.T) {
	h := NewStringHeap(16)
	if _, ok := h.Allocate(32); ok {
		t.Fatal("expected allocation larger than heap to fail")
	}
	if _, ok := h.Allocate(16); !ok {
		t.Fatal("expected an exactly-sized allocation to succeed")
	}
	if _, ok := h.Allocate(1); ok {
		t.Fatal("expected heap to be exhausted")
	}
}

func TestStringHeapExpandOnlyMostRecent(t *testing.T) {
	h := NewStringHeap(64)
	first, _ := h.Allocate(8)
	second, _ := h.Allocate(8)

	if _, ok := h.Expand(first, 8, 16); ok {
		t.Fatal("expanding a non-most-recent allocation must fail")
	}
	grown, ok := h.Expand(second, 8, 24)
	if !ok {
		t.Fatal("expanding the most recent allocation should succeed")
	}
	if len(grown) != 24 {
		t.Fatalf("len(grown) = %d, want 24", len(grown))
	}
}

func TestStringHeapExpandFailsWhenOutOfSpace(t *testing.T) {
	h := NewStringHeap(16)
	a, _ := h.Allocate(8)
	if _, ok := h.Expand(a, 8, 64); ok {
		t.Fatal("expected expand beyond capacity to fail")
	}
}

func TestStringHeapContainsRejectsForeignSlice(t *testing.T) {
	h := NewStringHeap(32)
	other := NewStringHeap(32)
	a, _ := other.Allocate(8)
	if h.Contains(a) {
		t.Fatal("heap must not claim another heap's allocation")
	}
}

func TestStringHeapRefcount(t *testing.T) {
	h := NewStringHeap(8)
	if h.RefCount() != 1 {
		t.Fatalf("new heap refcount = %d, want 1", h.RefCount())
	}
	if got := h.Retain(); got != 2 {
		t.Fatalf("Retain() = %d, want 2", got)
	}
	if got := h.Release(); got != 1 {
		t.Fatalf("Release() = %d, want 1", got)
	}
	if got := h.Release(); got != 0 {
		t.Fatalf("Release() = %d, want 0", got)
	}
}
