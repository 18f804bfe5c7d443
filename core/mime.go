package core

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// FieldBlockCapacity is the fixed number of fields held inline in one
// field block before a new block is chained on (spec.md §3 "Field
// block").
const FieldBlockCapacity = 16

// MIMEField is one header field: a name, a value, and (for a field that
// repeats in a way that cannot be comma-joined) a forward-only link to its
// next duplicate, which may live in a different block.
type MIMEField struct {
	Name    StrRef
	NameTok *TokenEntry // nil if the field name is not one of the interned WKS
	Value   StrRef
	NextDup *MIMEField
	Flags   TokenFlags
	Cooked  bool

	owner      *FieldBlock
	idxInBlock int
	deleted    bool
}

// IsWKS reports whether this field's name is an interned well-known
// string, enabling slot-index and pointer-equality fast paths.
func (f *MIMEField) IsWKS() bool { return f.NameTok != nil }

// FieldBlock is a fixed-capacity inline array of fields; blocks chain
// forward when the current one fills (spec.md §3 "Field block").
type FieldBlock struct {
	fields [FieldBlockCapacity]MIMEField
	count  int
	next   *FieldBlock
}

func newFieldBlock() *FieldBlock {
	return &FieldBlock{}
}

func (b *FieldBlock) full() bool { return b.count == FieldBlockCapacity }

func (b *FieldBlock) append(f MIMEField) *MIMEField {
	idx := b.count
	b.fields[idx] = f
	b.fields[idx].owner = b
	b.fields[idx].idxInBlock = idx
	b.count++
	return &b.fields[idx]
}

// MIMEHdr is a header: cooked Cache-Control/Date/Content-Length, a 64-bit
// presence bitmask, a 32-slot index array, and a chain of field blocks
// (spec.md §3 "MIME object").
type MIMEHdr struct {
	heap *HeaderHeap

	CCMask        uint32
	DateSeconds   int64 // 0 if absent/unparsed
	ContentLength int64 // -1 = unknown
	// ContentLengthInvalid is set once any Content-Length field fails the
	// digit-only check (spec.md §4.6 "Else if Content-Length has a
	// non-digit byte, error"). validateHostAndLength consults this instead
	// of re-parsing, since applyCooked already ran over the raw bytes.
	ContentLengthInvalid bool
	Presence             uint64
	Slots                [MaxSlots]uint8 // slot -> field index within first block, or NoSlot

	first *FieldBlock
	last  *FieldBlock

	// nameIndex is an auxiliary, non-WKS field-name lookup cache keyed by
	// an xxhash of the lowercased name, so repeated lookups of an
	// uninterned header don't re-walk every field block. It is a pure
	// accelerator: rebuilt lazily, invalidated on any mutation.
	nameIndex   map[uint64][]*MIMEField
	nameIndexOK bool
}

// NewMIMEHdr allocates a MIME header object on the given header heap.
func NewMIMEHdr(heap *HeaderHeap) *MIMEHdr {
	heap.AllocateObject(64, ObjTypeMIME)
	m := &MIMEHdr{heap: heap, ContentLength: -1}
	for i := range m.Slots {
		m.Slots[i] = NoSlot
	}
	m.first = newFieldBlock()
	m.last = m.first
	return m
}

func (m *MIMEHdr) invalidateIndex() {
	m.nameIndexOK = false
	m.nameIndex = nil
}

func xxhashLower(b []byte) uint64 {
	var buf [256]byte
	n := len(b)
	dst := buf[:0]
	if n <= len(buf) {
		dst = buf[:n]
	} else {
		dst = make([]byte, n)
	}
	for i := 0; i < n; i++ {
		c := b[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		dst[i] = c
	}
	return xxhash.Sum64(dst)
}

func (m *MIMEHdr) buildNameIndex() {
	m.nameIndex = make(map[uint64][]*MIMEField)
	m.forEachField(func(f *MIMEField) {
		if f.IsWKS() || f.deleted {
			return
		}
		h := xxhashLower(f.Name.Bytes())
		m.nameIndex[h] = append(m.nameIndex[h], f)
	})
	m.nameIndexOK = true
}

func (m *MIMEHdr) forEachField(visit func(*MIMEField)) {
	for b := m.first; b != nil; b = b.next {
		for i := 0; i < b.count; i++ {
			visit(&b.fields[i])
		}
	}
}

// AppendField inserts a new field, OR-ing its presence bit if it is a
// slotted WKS field and this is the first occurrence, and maintains the
// duplicate chain otherwise.
func (m *MIMEHdr) AppendField(name StrRef, tok *TokenEntry, value StrRef) *MIMEField {
	if m.last.full() {
		nb := newFieldBlock()
		m.last.next = nb
		m.last = nb
	}
	flags := TokenFlags(0)
	if tok != nil {
		flags = tok.Flags
	}
	f := m.last.append(MIMEField{Name: name, NameTok: tok, Value: value, Flags: flags})

	if tok != nil && tok.HasSlot() {
		existingIdx := m.Slots[tok.SlotID]
		if existingIdx == NoSlot {
			m.Slots[tok.SlotID] = uint8(indexWithinFirstBlock(m.first, f))
			m.Presence |= tok.PresenceBit
		} else {
			// chain onto the existing occurrence's duplicate list.
			head := &m.first.fields[existingIdx]
			tail := head
			for tail.NextDup != nil {
				tail = tail.NextDup
			}
			tail.NextDup = f
		}
	}
	m.invalidateIndex()
	m.applyCooked(tok, f)
	return f
}

// indexWithinFirstBlock returns f's index if it lives in the first block
// (the only block the slot array ever indexes into), or NoSlot otherwise
// — a duplicate of a slotted field that lands in a later block is still
// reachable via the first occurrence's NextDup chain.
func indexWithinFirstBlock(first *FieldBlock, f *MIMEField) int {
	if f.owner == first {
		return f.idxInBlock
	}
	return int(NoSlot)
}

func (m *MIMEHdr) applyCooked(tok *TokenEntry, f *MIMEField) {
	if tok == nil {
		return
	}
	switch tok.Text {
	case "Cache-Control":
		m.CCMask |= parseCacheControl(f.Value.Bytes())
		f.Cooked = true
	case "Date":
		if secs, ok := parseHTTPDate(f.Value.Bytes()); ok {
			m.DateSeconds = secs
			f.Cooked = true
		}
	case "Content-Length":
		if n, ok := parseContentLength(f.Value.Bytes()); ok {
			m.ContentLength = n
			f.Cooked = true
		} else {
			m.ContentLengthInvalid = true
		}
	}
}

// Find locates a field by WKS token (slot lookup when available) or by a
// case-insensitive byte-name walk, accelerated by the xxhash side index
// for repeated non-WKS lookups.
func (m *MIMEHdr) Find(tok *TokenEntry, name []byte) (*MIMEField, FieldResult) {
	if tok != nil && tok.HasSlot() {
		idx := m.Slots[tok.SlotID]
		if idx == NoSlot {
			return nil, FieldNoSuchField
		}
		return &m.first.fields[idx], FieldOK
	}
	if tok != nil {
		// Interned but slot-less: still compare by pointer identity,
		// which is cheaper than a byte compare.
		var found *MIMEField
		m.forEachField(func(f *MIMEField) {
			if found == nil && !f.deleted && f.NameTok == tok {
				found = f
			}
		})
		if found == nil {
			return nil, FieldNoSuchField
		}
		return found, FieldOK
	}
	if !m.nameIndexOK {
		m.buildNameIndex()
	}
	h := xxhashLower(name)
	for _, f := range m.nameIndex[h] {
		if !f.deleted && equalFold(string(name), f.Name.Bytes()) {
			return f, FieldOK
		}
	}
	return nil, FieldNoSuchField
}

// Present reports whether the single-AND presence test for a slotted WKS
// field is set.
func (m *MIMEHdr) Present(tok *TokenEntry) bool {
	if tok == nil || !tok.HasSlot() {
		return false
	}
	return m.Presence&tok.PresenceBit != 0
}

// Delete removes f (and, if it is the head of a duplicate chain, splices
// the chain forward). It only clears the presence bit once no duplicates
// remain, matching spec.md §4.5.
func (m *MIMEHdr) Delete(f *MIMEField) {
	if f.deleted {
		return
	}
	f.deleted = true
	m.heap.FreeString(f.Name.Len())
	m.heap.FreeString(f.Value.Len())
	m.invalidateIndex()

	if f.NameTok == nil || !f.NameTok.HasSlot() {
		return
	}
	idx := m.Slots[f.NameTok.SlotID]
	if idx == NoSlot {
		return
	}
	head := &m.first.fields[idx]
	if head == f {
		if f.NextDup != nil {
			// Promote the next duplicate into the head slot position by
			// copying it forward; this keeps the slot index valid and
			// the chain intact. The duplicate's original entry is then
			// retired so the field is not seen twice.
			next := f.NextDup
			promoted := *next
			promoted.idxInBlock = head.idxInBlock
			promoted.owner = head.owner
			*head = promoted
			next.deleted = true
			return
		}
		m.Slots[f.NameTok.SlotID] = NoSlot
		m.Presence &^= f.NameTok.PresenceBit
		return
	}
	// f is a non-head duplicate: splice it out of the chain.
	prev := head
	for prev.NextDup != nil && prev.NextDup != f {
		prev = prev.NextDup
	}
	if prev.NextDup == f {
		prev.NextDup = f.NextDup
	}
}

// DeleteAll removes every occurrence of a slotted field.
func (m *MIMEHdr) DeleteAll(tok *TokenEntry) {
	if tok == nil || !tok.HasSlot() {
		return
	}
	idx := m.Slots[tok.SlotID]
	if idx == NoSlot {
		return
	}
	head := &m.first.fields[idx]
	for cur := head; cur != nil; {
		next := cur.NextDup
		cur.deleted = true
		m.heap.FreeString(cur.Name.Len())
		m.heap.FreeString(cur.Value.Len())
		cur = next
	}
	m.Slots[tok.SlotID] = NoSlot
	m.Presence &^= tok.PresenceBit
	m.invalidateIndex()
}

// Values returns every live value for tok, comma-joined when the token's
// flags include FlagCommas and as separate strings (duplicate chain
// order) otherwise.
func (m *MIMEHdr) Values(tok *TokenEntry) []string {
	if tok == nil || !tok.HasSlot() {
		return nil
	}
	idx := m.Slots[tok.SlotID]
	if idx == NoSlot {
		return nil
	}
	var out []string
	for cur := &m.first.fields[idx]; cur != nil; cur = cur.NextDup {
		if !cur.deleted {
			out = append(out, string(cur.Value.Bytes()))
		}
	}
	if tok.Flags&FlagCommas != 0 && len(out) > 1 {
		joined := out[0]
		for _, v := range out[1:] {
			joined += ", " + v
		}
		return []string{joined}
	}
	return out
}

// forEachStrRef visits every live string reference reachable from this
// MIME header, used by coalesce/marshal.
func (m *MIMEHdr) forEachStrRef(visit func(*StrRef)) {
	for b := m.first; b != nil; b = b.next {
		for i := 0; i < b.count; i++ {
			f := &b.fields[i]
			visit(&f.Name)
			visit(&f.Value)
		}
	}
}

// -----------------------------------------------------------------------------
// Cooked value parsing.
// -----------------------------------------------------------------------------

func parseCacheControl(value []byte) uint32 {
	var mask uint32
	for _, tokBytes := range splitCommaTokens(value) {
		// Strip an optional "=value" suffix (e.g. "max-age=60") before
		// looking the directive name up.
		name := tokBytes
		for i, c := range tokBytes {
			if c == '=' {
				name = tokBytes[:i]
				break
			}
		}
		if tok := Tokenize(trimSpace(name)); tok != nil && tok.Type == TokenCacheControl {
			mask |= tok.CCBit
		}
	}
	return mask
}

func splitCommaTokens(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i := 0; i <= len(b); i++ {
		if i == len(b) || b[i] == ',' {
			out = append(out, b[start:i])
			start = i + 1
		}
	}
	return out
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isOWS(b[i]) {
		i++
	}
	for j > i && isOWS(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isOWS(c byte) bool { return c == ' ' || c == '\t' }

func parseContentLength(value []byte) (int64, bool) {
	value = trimSpace(value)
	if len(value) == 0 {
		return 0, false
	}
	// Leading '+' is rejected: the digit-only check in the original
	// parser would reject "Content-Length: +5", and SPEC_FULL preserves
	// that bug-compatible behavior rather than accepting it.
	n, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, false
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	return n, true
}
