package core

// StrRefKind classifies where a string reference's bytes live, per the
// three-way ownership split in spec.md §4.2: this heap's writable string
// heap, one of its read-only slots, or an external caller-owned buffer
// that has not (yet) been localized.
type StrRefKind uint8

const (
	StrEmpty StrRefKind = iota
	StrInline
	StrShared
	StrExternal
)

// StrRef is a view into a byte range plus enough ownership metadata to
// know whether it can be relocated (coalesce) or must be pinned in place
// (an active ScopedGuard), and whether it is even eligible to marshal.
type StrRef struct {
	Kind StrRefKind
	b    []byte
	heap *StringHeap // non-nil for StrInline/StrShared
}

// Bytes returns the referenced bytes. Valid regardless of Kind.
func (r StrRef) Bytes() []byte { return r.b }

// Len returns the byte length of the referenced range.
func (r StrRef) Len() int { return len(r.b) }

// IsEmpty reports whether this reference holds no bytes at all.
func (r StrRef) IsEmpty() bool { return r.Kind == StrEmpty || len(r.b) == 0 }

// External wraps a caller-owned byte slice without copying it. It must be
// localized (see HeaderHeap.Localize) before the owning heap is marshaled.
func External(b []byte) StrRef {
	if len(b) == 0 {
		return StrRef{}
	}
	return StrRef{Kind: StrExternal, b: b}
}
