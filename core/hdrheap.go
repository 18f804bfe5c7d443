package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HeapMagic tracks a header heap's lifecycle state (spec.md §4.3 "header
// prefix"). A heap is only ever read or written while Alive.
type HeapMagic uint8

const (
	MagicAlive HeapMagic = iota
	MagicMarshaled
	MagicDead
	MagicCorrupt
)

func (m HeapMagic) String() string {
	switch m {
	case MagicAlive:
		return "alive"
	case MagicMarshaled:
		return "marshaled"
	case MagicDead:
		return "dead"
	case MagicCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// MaxReadOnlySlots is N, the number of read-only string heap slots a
// header heap can hold at once (spec.md §4.2 "demote"/"coalesce").
const MaxReadOnlySlots = 3

// DefaultHeaderHeapSize is the default object-arena region size, matching
// the source's historical 2KB default (HdrHeap.h).
const DefaultHeaderHeapSize = 2048

// ObjType tags what kind of object an allocate_object() call is for.
type ObjType uint8

const (
	ObjTypeHTTP ObjType = iota
	ObjTypeURL
	ObjTypeMIME
	ObjTypeFieldBlock
)

// ObjRef is the bookkeeping record for one allocate_object() call: which
// overflow region it landed in, at what offset, and how long it is. It
// exists to make the object arena's bump/overflow-chain behavior testable
// without requiring every object to live in a raw byte buffer.
type ObjRef struct {
	Region int
	Offset int
	Length int
	Type   ObjType
}

type objRegion struct {
	capacity int
	used     int
}

type roSlot struct {
	heap   *StringHeap
	locked bool
}

// HeaderHeap is the arena that owns one HTTP object's entire string and
// object graph: a writable string heap, up to MaxReadOnlySlots read-only
// string heaps inherited or demoted from elsewhere, and a chain of
// object-arena regions (spec.md §4.3).
type HeaderHeap struct {
	ID    uuid.UUID
	magic HeapMagic
	log   logrus.FieldLogger

	writableStr *StringHeap
	readOnly    [MaxReadOnlySlots]*roSlot

	lostStringBytes int
	objRegions      []*objRegion

	// Root is the single HTTP object this heap owns; every marshal,
	// coalesce, and string-ref walk starts here.
	Root *HTTPObj
}

// NewHeaderHeap allocates a fresh, empty, alive header heap.
func NewHeaderHeap() *HeaderHeap {
	return &HeaderHeap{
		ID:    uuid.New(),
		magic: MagicAlive,
		log:   logrus.WithField("component", "hdrheap"),
	}
}

// Magic returns the heap's current lifecycle state.
func (h *HeaderHeap) Magic() HeapMagic { return h.magic }

// AllocateObject bump-allocates length bytes of arena bookkeeping for an
// object of the given type, chaining a new overflow region when the
// current one has no room.
func (h *HeaderHeap) AllocateObject(length int, tag ObjType) ObjRef {
	aligned := alignUp(length)
	last := len(h.objRegions) - 1
	if last < 0 || h.objRegions[last].used+aligned > h.objRegions[last].capacity {
		cap := DefaultHeaderHeapSize
		if aligned > cap {
			cap = aligned
		}
		h.objRegions = append(h.objRegions, &objRegion{capacity: cap})
		last++
	}
	off := h.objRegions[last].used
	h.objRegions[last].used += aligned
	return ObjRef{Region: last, Offset: off, Length: length, Type: tag}
}

// ObjectRegionCount returns how many overflow regions the object arena
// has chained so far, exposed for tests of the overflow-chain behavior.
func (h *HeaderHeap) ObjectRegionCount() int { return len(h.objRegions) }

func (h *HeaderHeap) firstFreeROSlot() int {
	for i, s := range h.readOnly {
		if s == nil {
			return i
		}
	}
	return -1
}

const defaultStrHeapSize = 2048

// AllocateString bump-allocates n bytes from the writable string heap,
// growing (demoting the old writable heap to read-only, then allocating a
// fresh one, coalescing first if no read-only slot is free) when it is
// exhausted or hasn't been created yet.
func (h *HeaderHeap) AllocateString(n int) (StrRef, error) {
	if h.writableStr == nil {
		h.writableStr = NewStringHeap(chooseStrHeapSize(n))
	}
	if b, ok := h.writableStr.Allocate(n); ok {
		return StrRef{Kind: StrInline, b: b, heap: h.writableStr}, nil
	}
	if err := h.growWritableString(n); err != nil {
		return StrRef{}, wrapf(err, "allocate %d-byte string", n)
	}
	b, ok := h.writableStr.Allocate(n)
	if !ok {
		return StrRef{}, fmt.Errorf("core: %d-byte string does not fit even a freshly grown heap", n)
	}
	return StrRef{Kind: StrInline, b: b, heap: h.writableStr}, nil
}

func chooseStrHeapSize(want int) int {
	size := defaultStrHeapSize
	if want > size {
		size = alignUp(want)
	}
	return size
}

func (h *HeaderHeap) growWritableString(nextN int) error {
	if h.writableStr != nil {
		if err := h.DemoteWritableStringHeap(); err != nil {
			return err
		}
	}
	h.writableStr = NewStringHeap(chooseStrHeapSize(nextN))
	return nil
}

// ExpandString grows an existing string reference in place when it is the
// most recent allocation in its owning heap, or reports failure so the
// caller can allocate-and-copy instead.
func (h *HeaderHeap) ExpandString(ref StrRef, oldLen, newLen int) (StrRef, bool) {
	if ref.Kind != StrInline || ref.heap == nil {
		return StrRef{}, false
	}
	grown, ok := ref.heap.Expand(ref.b, oldLen, newLen)
	if !ok {
		return StrRef{}, false
	}
	return StrRef{Kind: StrInline, b: grown, heap: ref.heap}, true
}

// DuplicateString always copies b into a freshly allocated string,
// regardless of where b currently lives.
func (h *HeaderHeap) DuplicateString(b []byte) (StrRef, error) {
	ref, err := h.AllocateString(len(b))
	if err != nil {
		return StrRef{}, err
	}
	copy(ref.b, b)
	return ref, nil
}

// FreeString records n bytes as logically freed, feeding the lost-bytes
// accounting that sizes the next coalesce.
func (h *HeaderHeap) FreeString(n int) {
	h.lostStringBytes += n
}

// Localize ensures b lives in this heap's writable string heap, copying
// it there unless it already does.
func (h *HeaderHeap) Localize(b []byte) (StrRef, error) {
	if len(b) == 0 {
		return StrRef{}, nil
	}
	if h.writableStr != nil && h.writableStr.Contains(b) {
		return StrRef{Kind: StrInline, b: b, heap: h.writableStr}, nil
	}
	ref, err := h.AllocateString(len(b))
	if err != nil {
		return StrRef{}, wrapf(err, "localize %d bytes", len(b))
	}
	copy(ref.b, b)
	return ref, nil
}

// InheritStringHeaps adds every string heap src owns (writable and
// read-only) as additional read-only slots on h, retaining a reference on
// each rather than copying bytes.
func (h *HeaderHeap) InheritStringHeaps(src *HeaderHeap) error {
	var toAdd []*StringHeap
	if src.writableStr != nil {
		toAdd = append(toAdd, src.writableStr)
	}
	for _, s := range src.readOnly {
		if s != nil {
			toAdd = append(toAdd, s.heap)
		}
	}
	for _, sh := range toAdd {
		slot := h.firstFreeROSlot()
		if slot < 0 {
			return errors.New("core: no free read-only slot to inherit string heap")
		}
		sh.Retain()
		h.readOnly[slot] = &roSlot{heap: sh}
	}
	return nil
}

// DemoteWritableStringHeap moves the current writable heap into a
// read-only slot, coalescing first if no slot is free.
func (h *HeaderHeap) DemoteWritableStringHeap() error {
	if h.writableStr == nil {
		return nil
	}
	slot := h.firstFreeROSlot()
	if slot < 0 {
		if err := h.CoalesceStringHeaps(); err != nil {
			return err
		}
		slot = h.firstFreeROSlot()
		if slot < 0 {
			return errors.New("core: no free read-only slot after coalesce")
		}
	}
	h.readOnly[slot] = &roSlot{heap: h.writableStr}
	h.writableStr = nil
	return nil
}

// CoalesceStringHeaps merges every owned string heap that is neither
// locked nor pinned by an active ScopedGuard (refcount > 1) into one
// fresh writable heap, rewriting every live string reference in place.
// Locked or guard-pinned heaps are left exactly where they are.
func (h *HeaderHeap) CoalesceStringHeaps() error {
	type candidate struct{ heap *StringHeap }
	var merge []candidate
	var keep []*roSlot

	if h.writableStr != nil {
		if h.writableStr.RefCount() > 1 {
			keep = append(keep, &roSlot{heap: h.writableStr})
		} else {
			merge = append(merge, candidate{heap: h.writableStr})
		}
	}
	for _, s := range h.readOnly {
		if s == nil {
			continue
		}
		if s.locked || s.heap.RefCount() > 1 {
			keep = append(keep, s)
			continue
		}
		merge = append(merge, candidate{heap: s.heap})
	}

	if len(merge) == 0 {
		h.writableStr = nil
		return h.rebuildReadOnly(keep)
	}

	total := 0
	for _, c := range merge {
		total += c.heap.TotalSize() - c.heap.SpaceAvailable()
	}
	newSize := total - h.lostStringBytes
	if newSize < strHeapAlign {
		newSize = strHeapAlign
	}
	newHeap := NewStringHeap(alignUp(newSize))

	mergedSet := make(map[*StringHeap]bool, len(merge))
	for _, c := range merge {
		mergedSet[c.heap] = true
	}

	dropped := 0
	h.walkStringRefs(func(ref *StrRef) {
		if ref.Kind != StrInline && ref.Kind != StrShared {
			return
		}
		if !mergedSet[ref.heap] {
			return
		}
		nb, ok := newHeap.Allocate(len(ref.b))
		if !ok {
			// newSize was sized to fit every live byte; if it somehow
			// doesn't, leave the ref pointing at the old (still valid
			// until Release below) heap rather than corrupt it.
			dropped++
			return
		}
		copy(nb, ref.b)
		ref.b = nb
		ref.heap = newHeap
		ref.Kind = StrInline
	})
	if dropped > 0 {
		h.log.WithField("dropped", dropped).Warn("coalesce undersized new heap, some refs not relocated")
	}

	for _, c := range merge {
		c.heap.Release()
	}
	h.lostStringBytes = 0
	h.writableStr = newHeap
	return h.rebuildReadOnly(keep)
}

func (h *HeaderHeap) rebuildReadOnly(keep []*roSlot) error {
	if len(keep) > MaxReadOnlySlots {
		return fmt.Errorf("core: coalesce cannot keep %d read-only heaps (max %d)", len(keep), MaxReadOnlySlots)
	}
	for i := range h.readOnly {
		h.readOnly[i] = nil
	}
	for i, s := range keep {
		h.readOnly[i] = s
	}
	return nil
}

// LockReadOnly pins slot i so coalesce leaves it untouched.
func (h *HeaderHeap) LockReadOnly(i int) error {
	if i < 0 || i >= MaxReadOnlySlots || h.readOnly[i] == nil {
		return fmt.Errorf("core: invalid read-only slot %d", i)
	}
	h.readOnly[i].locked = true
	return nil
}

// UnlockReadOnly releases the pin on slot i and compacts the slot array.
func (h *HeaderHeap) UnlockReadOnly(i int) error {
	if i < 0 || i >= MaxReadOnlySlots || h.readOnly[i] == nil {
		return fmt.Errorf("core: invalid read-only slot %d", i)
	}
	h.readOnly[i].locked = false
	h.compactReadOnly()
	return nil
}

func (h *HeaderHeap) compactReadOnly() {
	w := 0
	for _, s := range h.readOnly {
		if s != nil {
			h.readOnly[w] = s
			w++
		}
	}
	for ; w < MaxReadOnlySlots; w++ {
		h.readOnly[w] = nil
	}
}

// ReadOnlySlotCount returns how many read-only slots currently hold a
// string heap.
func (h *HeaderHeap) ReadOnlySlotCount() int {
	n := 0
	for _, s := range h.readOnly {
		if s != nil {
			n++
		}
	}
	return n
}

func (h *HeaderHeap) walkStringRefs(visit func(*StrRef)) {
	if h.Root != nil {
		h.Root.forEachStrRef(visit)
	}
}

// ownerHeap returns the StringHeap that owns ref's bytes, or nil for an
// external or empty reference.
func (h *HeaderHeap) ownerHeap(ref StrRef) *StringHeap {
	if ref.Kind != StrInline && ref.Kind != StrShared {
		return nil
	}
	return ref.heap
}

// MarkDead releases every string heap this header heap owns. After this
// call the heap must not be read from or written to again.
func (h *HeaderHeap) MarkDead() {
	if h.magic == MagicDead {
		return
	}
	if h.writableStr != nil {
		h.writableStr.Release()
	}
	for _, s := range h.readOnly {
		if s != nil {
			s.heap.Release()
		}
	}
	h.magic = MagicDead
}
