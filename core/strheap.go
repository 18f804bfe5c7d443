package core

import (
	"sync/atomic"
	"unsafe"
)

const strHeapAlign = 8

func alignUp(n int) int {
	return (n + strHeapAlign - 1) &^ (strHeapAlign - 1)
}

// StringHeap is a reference-counted, bump-allocated byte buffer holding
// variable-length byte runs with 8-byte alignment (spec.md §4.2).
// Allocation descends from the top of the buffer; once allocated a byte
// range is immutable from the heap's perspective. Strings are never freed
// individually — a StringHeap is reclaimed whole, on refcount drop.
type StringHeap struct {
	buf      []byte
	top      int // free space is buf[:top]; shrinks toward 0
	refcount int32
	lastOff  int // offset of the most recent allocation, for Expand
	lastLen  int
}

// NewStringHeap allocates a fresh string heap of the given total size,
// with one reference already held by the caller.
func NewStringHeap(size int) *StringHeap {
	return &StringHeap{
		buf:      make([]byte, size),
		top:      size,
		refcount: 1,
		lastOff:  -1,
	}
}

// TotalSize returns T, the heap's fixed total byte capacity.
func (h *StringHeap) TotalSize() int { return len(h.buf) }

// SpaceAvailable returns the number of bytes still unallocated.
func (h *StringHeap) SpaceAvailable() int { return h.top }

// Allocate bump-allocates n bytes, 8-byte aligned, descending from the top
// of the buffer. It returns (nil, false) when the request exceeds
// available space — callers (the header heap) react by spinning up a new
// string heap.
func (h *StringHeap) Allocate(n int) ([]byte, bool) {
	if n < 0 {
		return nil, false
	}
	aligned := alignUp(n)
	if aligned > h.top {
		return nil, false
	}
	h.top -= aligned
	h.lastOff = h.top
	h.lastLen = n
	return h.buf[h.top : h.top+n : h.top+aligned], true
}

// Expand grows the most recent allocation in place. It succeeds only if
// last is exactly the most recent allocation and there is enough
// remaining space for the incremental growth; otherwise the caller must
// copy to a freshly allocated region.
func (h *StringHeap) Expand(last []byte, oldLen, newLen int) ([]byte, bool) {
	if newLen <= oldLen {
		return last[:newLen], true
	}
	if len(last) != oldLen || !h.isLastAllocation(last) {
		return nil, false
	}
	delta := alignUp(newLen) - alignUp(oldLen)
	if delta > h.top {
		return nil, false
	}
	h.top -= delta
	grown := h.buf[h.top : h.top+newLen : h.top+alignUp(newLen)]
	copy(grown, last)
	h.lastOff = h.top
	h.lastLen = newLen
	return grown, true
}

func (h *StringHeap) isLastAllocation(b []byte) bool {
	if h.lastOff < 0 || len(b) != h.lastLen {
		return false
	}
	return h.sliceOffset(b) == h.lastOff
}

// Contains reports whether b's backing bytes live inside this heap's
// buffer — a pointer-range test, not a copy/compare. A zero-length slice
// never aliases a real allocation and always reports false.
func (h *StringHeap) Contains(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	off := h.sliceOffset(b)
	return off >= 0 && off+len(b) <= len(h.buf)
}

func (h *StringHeap) sliceOffset(b []byte) int {
	if len(h.buf) == 0 {
		return -1
	}
	base := uintptr(unsafe.Pointer(&h.buf[0]))
	end := base + uintptr(len(h.buf))
	if len(b) == 0 {
		// Zero-length slices never alias a real allocation; treat as
		// not-contained so callers fall back to copying.
		return -1
	}
	p := uintptr(unsafe.Pointer(&b[0]))
	if p < base || p >= end {
		return -1
	}
	return int(p - base)
}

// Retain increments the heap's reference count, used when a header heap
// inherits this string heap as an additional read-only slot without
// copying its bytes.
func (h *StringHeap) Retain() int32 {
	return atomic.AddInt32(&h.refcount, 1)
}

// Release decrements the reference count and returns the new value. A
// value of zero means the caller held the last reference and the heap's
// backing buffer may be dropped.
func (h *StringHeap) Release() int32 {
	return atomic.AddInt32(&h.refcount, -1)
}

// RefCount returns the current reference count, for tests and diagnostics.
func (h *StringHeap) RefCount() int32 {
	return atomic.LoadInt32(&h.refcount)
}
