package core

import (
	"hash/fnv"
	"sync"
	"unsafe"
)

// TokenType classifies an interned token.
type TokenType uint8

const (
	TokenOther TokenType = iota
	TokenField
	TokenMethod
	TokenScheme
	TokenCacheControl
)

// TokenFlags carries per-token behavior bits.
type TokenFlags uint8

const (
	// FlagCommas means duplicate values of this field may be comma-joined
	// on read.
	FlagCommas TokenFlags = 1 << iota
	// FlagMultiValue means the field may legitimately repeat (with or
	// without comma-joining).
	FlagMultiValue
	// FlagHopByHop means the field must not be forwarded across a proxy
	// hop unchanged.
	FlagHopByHop
	// FlagProxyAuth marks Proxy-Authenticate/-Authorization.
	FlagProxyAuth
)

// NoSlot marks a TokenEntry that has no dedicated presence-mask slot.
const NoSlot uint8 = 0xFF

// MaxSlots is the number of header fields that get a dedicated fast-lookup
// cell (spec: "32 most common headers").
const MaxSlots = 32

// TokenEntry is one row of the frozen, process-wide token table. A pointer
// to a TokenEntry is the canonical "interned pointer": stable for the life
// of the process and comparable by identity. This plays the role the
// source's "prefix-before-string" trick plays for a bare char* — the
// metadata travels with the pointer instead of needing a second lookup.
type TokenEntry struct {
	Text        string
	Type        TokenType
	SlotID      uint8  // NoSlot if this token has no presence-mask slot
	PresenceBit uint64 // 0 if SlotID == NoSlot
	Flags       TokenFlags
	CCBit       uint32 // valid only when Type == TokenCacheControl
	index       int32  // position in tokenStorage
}

// HasSlot reports whether this token owns a presence-mask bit.
func (t *TokenEntry) HasSlot() bool { return t.SlotID != NoSlot }

// Index returns this entry's position in the frozen token storage region.
func (t *TokenEntry) Index() int32 { return t.index }

var (
	tokenInitOnce sync.Once
	tokenStorage  []TokenEntry
	tokenTable    *openAddrTable
	methodDFA     *dfaNode
	fieldDFA      *dfaNode
)

// InitTokenTable builds the process-wide token table exactly once. It is
// safe to call multiple times (and from multiple goroutines); only the
// first call does any work. A malformed or colliding tokens.yaml is a
// fatal configuration error, matching the spec's "collisions at table
// build time are a fatal configuration error (caller rebuilds the table
// size)" — there is no runtime recovery from a broken static table.
func InitTokenTable() {
	tokenInitOnce.Do(func() {
		def, err := parseTokenDefFile(tokensYAML)
		if err != nil {
			panic(wrapf(err, "init token table"))
		}
		buildTokenTable(def)
	})
}

func buildTokenTable(def *tokenDefFile) {
	total := len(def.Fields) + len(def.Methods) + len(def.Schemes) + len(def.CacheControl)
	tokenStorage = make([]TokenEntry, 0, total)

	slot := uint8(0)
	for _, f := range def.Fields {
		e := TokenEntry{
			Text:   f.Text,
			Type:   TokenField,
			SlotID: NoSlot,
			Flags:  decodeFlags(f.Flags),
		}
		if int(slot) < MaxSlots {
			e.SlotID = slot
			e.PresenceBit = uint64(1) << slot
			slot++
		}
		tokenStorage = append(tokenStorage, e)
	}
	for _, m := range def.Methods {
		tokenStorage = append(tokenStorage, TokenEntry{Text: m.Text, Type: TokenMethod, SlotID: NoSlot})
	}
	for _, s := range def.Schemes {
		tokenStorage = append(tokenStorage, TokenEntry{Text: s.Text, Type: TokenScheme, SlotID: NoSlot})
	}
	for i, c := range def.CacheControl {
		tokenStorage = append(tokenStorage, TokenEntry{
			Text:   c.Text,
			Type:   TokenCacheControl,
			SlotID: NoSlot,
			CCBit:  uint32(1) << uint(i),
		})
	}

	for i := range tokenStorage {
		tokenStorage[i].index = int32(i)
	}

	tokenTable = newOpenAddrTable(len(tokenStorage))
	for i := range tokenStorage {
		if !tokenTable.insert(tokenStorage[i].Text, int32(i)) {
			panic("core: token table build collision (rebuild with a larger table size)")
		}
	}

	methodDFA = buildDFA(tokenStorage, TokenMethod)
	fieldDFA = buildDFA(tokenStorage, TokenField)
}

// Tokenize looks up b (case-insensitive) in the frozen token table and
// returns its interned entry, or nil if b is not a known token. Unknown
// tokens are never an error condition — callers keep them as arbitrary
// byte ranges.
func Tokenize(b []byte) *TokenEntry {
	InitTokenTable()
	idx := tokenTable.lookup(b)
	if idx < 0 {
		return nil
	}
	return &tokenStorage[idx]
}

// TokenAt returns the interned entry at a frozen table index, matching the
// spec's index_to_interned_pointer contract.
func TokenAt(index int32) *TokenEntry {
	InitTokenTable()
	return &tokenStorage[index]
}

// IsInterned reports whether p points within the single contiguous token
// storage region, i.e. whether p is one of the process's interned
// pointers rather than some other *TokenEntry a caller constructed. This
// is a pointer-range test, not a value comparison, per spec.md's "is_interned"
// contract.
func IsInterned(p *TokenEntry) bool {
	if p == nil || len(tokenStorage) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(&tokenStorage[0]))
	var sz TokenEntry
	stride := unsafe.Sizeof(sz)
	end := base + uintptr(len(tokenStorage))*stride
	addr := uintptr(unsafe.Pointer(p))
	return addr >= base && addr < end && (addr-base)%stride == 0
}

// -----------------------------------------------------------------------------
// Open-addressed hash table, keyed by a case-insensitive FNV-1a hash.
// -----------------------------------------------------------------------------

const maxTableBits = 15 // spec: "≤ 2^15-entry open-addressed table"

type openAddrTable struct {
	slots []int32 // -1 means empty
	mask  uint32
}

func newOpenAddrTable(n int) *openAddrTable {
	bits := 4
	for (1 << uint(bits)) < n*2 {
		bits++
	}
	if bits > maxTableBits {
		bits = maxTableBits
	}
	size := 1 << uint(bits)
	slots := make([]int32, size)
	for i := range slots {
		slots[i] = -1
	}
	return &openAddrTable{slots: slots, mask: uint32(size - 1)}
}

func fnv1aCaseInsensitive(b []byte) uint32 {
	h := fnv.New32a()
	var lower [1]byte
	for _, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[0] = c
		_, _ = h.Write(lower[:])
	}
	return h.Sum32()
}

func equalFold(a string, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// insert places text at its probed slot, returning false if the table is
// full (a fatal condition at build time, never at request time).
func (t *openAddrTable) insert(text string, idx int32) bool {
	h := fnv1aCaseInsensitive([]byte(text))
	for i := uint32(0); i <= t.mask; i++ {
		slot := (h + i) & t.mask
		if t.slots[slot] == -1 {
			t.slots[slot] = idx
			return true
		}
		if equalFold(text, []byte(tokenStorage[t.slots[slot]].Text)) {
			return false // duplicate token text in tokens.yaml
		}
	}
	return false
}

func (t *openAddrTable) lookup(b []byte) int32 {
	h := fnv1aCaseInsensitive(b)
	for i := uint32(0); i <= t.mask; i++ {
		slot := (h + i) & t.mask
		idx := t.slots[slot]
		if idx == -1 {
			return -1
		}
		if equalFold(tokenStorage[idx].Text, b) {
			return idx
		}
	}
	return -1
}

// -----------------------------------------------------------------------------
// Streaming DFA recognizer: recognizes a method or field name
// byte-by-byte without buffering the whole token first (see
// StreamRecognizer for who uses it).
// -----------------------------------------------------------------------------

type dfaNode struct {
	children [256]*dfaNode
	token    *TokenEntry // non-nil if a token ends exactly here
}

func buildDFA(entries []TokenEntry, want TokenType) *dfaNode {
	root := &dfaNode{}
	for i := range entries {
		e := &entries[i]
		if e.Type != want {
			continue
		}
		n := root
		for j := 0; j < len(e.Text); j++ {
			c := foldByte(e.Text[j])
			if n.children[c] == nil {
				n.children[c] = &dfaNode{}
			}
			n = n.children[c]
			// also register the uppercase entry point so case
			// variants share the same node (we only ever descend
			// via foldByte, so this just documents the invariant).
		}
		n.token = e
	}
	return root
}

func foldByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// StreamRecognizer walks a DFA one byte at a time to recognize a method or
// field-name token as its bytes arrive during scanning. spec.md §4.1 only
// requires this recognizer to be "available" for streaming tokenization,
// not that every caller use it: HTTPParser's line-oriented fast/slow paths
// tokenize a whole name or method in one shot via Tokenize instead, so
// today StreamRecognizer is exercised directly by tokens_test.go rather
// than from inside the parser.
type StreamRecognizer struct {
	node *dfaNode
}

// NewMethodRecognizer returns a recognizer over the interned method set.
func NewMethodRecognizer() *StreamRecognizer {
	InitTokenTable()
	return &StreamRecognizer{node: methodDFA}
}

// NewFieldRecognizer returns a recognizer over the interned field-name set.
func NewFieldRecognizer() *StreamRecognizer {
	InitTokenTable()
	return &StreamRecognizer{node: fieldDFA}
}

// Feed advances the recognizer by one byte. ok is false once the byte
// sequence fed so far cannot possibly be a known token; the caller should
// stop calling Feed and fall back to the generic slow path.
func (r *StreamRecognizer) Feed(c byte) (ok bool) {
	if r.node == nil {
		return false
	}
	next := r.node.children[foldByte(c)]
	r.node = next
	return next != nil
}

// Match returns the token recognized so far, or nil if the fed bytes do
// not exactly spell a known token (yet, or at all).
func (r *StreamRecognizer) Match() *TokenEntry {
	if r.node == nil {
		return nil
	}
	return r.node.token
}
