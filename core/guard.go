package core

// Guard is a scoped handle that pins the string heap backing a StrRef in
// place: while a guard is live, CoalesceStringHeaps treats that heap as if
// it were locked, so the guarded bytes never move (spec.md §4.2 "scoped
// guard"). A guard over an external or empty reference is a harmless
// no-op, since nothing owned needs pinning.
type Guard struct {
	heap *StringHeap
}

// ScopedGuard returns a Guard pinning whichever owned heap backs ref.
func (h *HeaderHeap) ScopedGuard(ref StrRef) *Guard {
	owner := h.ownerHeap(ref)
	if owner == nil {
		return &Guard{}
	}
	owner.Retain()
	return &Guard{heap: owner}
}

// Release drops the guard's pin. It is safe to call more than once; only
// the first call has any effect.
func (g *Guard) Release() {
	if g.heap != nil {
		g.heap.Release()
		g.heap = nil
	}
}
