package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

// Wire format (little-endian throughout):
//
//	[0:4]   magic            uint32 = marshalMagic
//	[4:12]  checksum         uint64 = blake3(body)[:8]
//	[12:16] bodyLen          uint32
//	[16:]   body = structuredRecords || stringPool
//
// Object references (HTTP -> URL/MIME, field-block chaining, duplicate
// chains) are positional: the layout is always
// http-record, url-record?, mime-record, block-record*, so a reader never
// needs to resolve an arbitrary pointer to find them. String references
// are the one place an explicit offset is required, since their bytes
// live in the trailing string pool rather than inline in a fixed-size
// record; marshal builds exactly the (original-ref -> pool-offset)
// translation spec.md's design notes describe, scoped to strings.
const marshalMagic = 0xdcbafeed

var (
	// ErrUnlocalizedString is the marshal failure spec.md predicts for a
	// pointer that "does not fall within exactly one entry of the
	// translation table": an External StrRef has no heap-owned home to
	// translate into an offset, so it must be localized first.
	ErrUnlocalizedString = errors.New("core: cannot marshal an unlocalized external string reference")
	// ErrCorruptImage is returned by Unmarshal when the checksum does not
	// match the body, corresponding to the corrupt magic state.
	ErrCorruptImage = errors.New("core: marshaled image failed its integrity check")
	// ErrNoRoot is returned when marshaling a heap with no HTTP object.
	ErrNoRoot = errors.New("core: header heap has no root object to marshal")
)

type wbuf struct{ b []byte }

func (w *wbuf) u8(v uint8)   { w.b = append(w.b, v) }
func (w *wbuf) u32(v uint32) { var t [4]byte; binary.LittleEndian.PutUint32(t[:], v); w.b = append(w.b, t[:]...) }
func (w *wbuf) i32(v int32)  { w.u32(uint32(v)) }
func (w *wbuf) u64(v uint64) { var t [8]byte; binary.LittleEndian.PutUint64(t[:], v); w.b = append(w.b, t[:]...) }
func (w *wbuf) i64(v int64)  { w.u64(uint64(v)) }
func (w *wbuf) raw(b []byte) { w.b = append(w.b, b...) }

type rbuf struct {
	b   []byte
	off int
}

func (r *rbuf) u8() (uint8, error) {
	if r.off+1 > len(r.b) {
		return 0, io_ErrUnexpectedEOF()
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}
func (r *rbuf) u32() (uint32, error) {
	if r.off+4 > len(r.b) {
		return 0, io_ErrUnexpectedEOF()
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}
func (r *rbuf) i32() (int32, error) { v, err := r.u32(); return int32(v), err }
func (r *rbuf) u64() (uint64, error) {
	if r.off+8 > len(r.b) {
		return 0, io_ErrUnexpectedEOF()
	}
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v, nil
}
func (r *rbuf) i64() (int64, error) { v, err := r.u64(); return int64(v), err }
func (r *rbuf) raw(n int) ([]byte, error) {
	if r.off+n > len(r.b) {
		return nil, io_ErrUnexpectedEOF()
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v, nil
}

func io_ErrUnexpectedEOF() error { return errors.New("core: truncated marshaled image") }

// stringWriter appends ref's bytes to the trailing pool and returns its
// (offset, length) within that pool, or an error if ref cannot be
// marshaled at all.
type stringWriter struct{ pool []byte }

func (sw *stringWriter) put(ref StrRef) (int32, int32, error) {
	if ref.IsEmpty() {
		return 0, 0, nil
	}
	if ref.Kind == StrExternal {
		return 0, 0, ErrUnlocalizedString
	}
	off := int32(len(sw.pool))
	sw.pool = append(sw.pool, ref.Bytes()...)
	return off, int32(len(ref.Bytes())), nil
}

// MarshalLength reports the exact byte length Marshal will produce.
func (h *HeaderHeap) MarshalLength() (int, error) {
	body, err := h.encodeBody()
	if err != nil {
		return 0, err
	}
	return 16 + len(body), nil
}

// Marshal writes h's root object into buf as a relocatable image,
// returning the number of bytes written. It fails if any reachable
// string reference is external and unlocalized.
func (h *HeaderHeap) Marshal(buf []byte) (int, error) {
	body, err := h.encodeBody()
	if err != nil {
		return 0, err
	}
	need := 16 + len(body)
	if len(buf) < need {
		return 0, fmt.Errorf("core: marshal buffer too small: have %d, need %d", len(buf), need)
	}
	sum := blake3.Sum256(body)
	binary.LittleEndian.PutUint32(buf[0:4], marshalMagic)
	binary.LittleEndian.PutUint64(buf[4:12], binary.LittleEndian.Uint64(sum[:8]))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(body)))
	copy(buf[16:], body)
	h.magic = MagicMarshaled
	return need, nil
}

func (h *HeaderHeap) encodeBody() ([]byte, error) {
	if h.Root == nil {
		return nil, ErrNoRoot
	}
	var w wbuf
	var sw stringWriter

	root := h.Root
	methodOff, methodLen, err := sw.put(root.Method)
	if err != nil {
		return nil, err
	}
	reasonOff, reasonLen, err := sw.put(root.Reason)
	if err != nil {
		return nil, err
	}
	methodTokIdx := int32(-1)
	if root.MethodTok != nil {
		methodTokIdx = root.MethodTok.Index()
	}

	w.u8(uint8(root.Polarity))
	w.u8(root.MajorVersion)
	w.u8(root.MinorVersion)
	hasURL := uint8(0)
	if root.URL != nil {
		hasURL = 1
	}
	w.u8(hasURL)
	w.i32(methodTokIdx)
	w.i32(methodOff)
	w.i32(methodLen)
	w.i32(root.StatusCode)
	w.i32(reasonOff)
	w.i32(reasonLen)

	if root.URL != nil {
		if err := encodeURL(&w, &sw, root.URL); err != nil {
			return nil, err
		}
	}
	if err := encodeMIME(&w, &sw, root.MIME); err != nil {
		return nil, err
	}

	w.raw(sw.pool)
	return w.b, nil
}

func encodeURL(w *wbuf, sw *stringWriter, u *URLObj) error {
	schemeTokIdx := int32(-1)
	if u.SchemeTok != nil {
		schemeTokIdx = u.SchemeTok.Index()
	}
	w.i32(schemeTokIdx)
	w.i32(u.Port)
	for _, ref := range []StrRef{u.Scheme, u.User, u.Password, u.Host, u.PortText, u.Path, u.Params, u.Query, u.Fragment} {
		off, length, err := sw.put(ref)
		if err != nil {
			return err
		}
		w.i32(off)
		w.i32(length)
	}
	return nil
}

func encodeMIME(w *wbuf, sw *stringWriter, m *MIMEHdr) error {
	w.u32(m.CCMask)
	w.i64(m.DateSeconds)
	w.i64(m.ContentLength)
	w.u64(m.Presence)
	w.raw(m.Slots[:])

	var blocks []*FieldBlock
	for b := m.first; b != nil; b = b.next {
		blocks = append(blocks, b)
	}
	blockIndex := make(map[*FieldBlock]int32, len(blocks))
	for i, b := range blocks {
		blockIndex[b] = int32(i)
	}
	w.i32(int32(len(blocks)))

	for _, b := range blocks {
		w.i32(int32(b.count))
		for i := 0; i < b.count; i++ {
			f := &b.fields[i]
			nameTokIdx := int32(-1)
			if f.NameTok != nil {
				nameTokIdx = f.NameTok.Index()
			}
			nameOff, nameLen, err := sw.put(f.Name)
			if err != nil {
				return err
			}
			valOff, valLen, err := sw.put(f.Value)
			if err != nil {
				return err
			}
			nextDupBlock, nextDupIdx := int32(-1), int32(-1)
			if f.NextDup != nil {
				nextDupBlock = blockIndex[f.NextDup.owner]
				nextDupIdx = int32(f.NextDup.idxInBlock)
			}
			w.i32(nameTokIdx)
			w.i32(nameOff)
			w.i32(nameLen)
			w.i32(valOff)
			w.i32(valLen)
			w.u8(uint8(f.Flags))
			w.u8(boolByte(f.Cooked))
			w.u8(boolByte(f.deleted))
			w.u8(0)
			w.i32(nextDupBlock)
			w.i32(nextDupIdx)
		}
	}
	return nil
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// Unmarshal decodes a header heap image produced by Marshal into a fresh,
// live HeaderHeap. The image's strings are copied into the new heap's own
// writable string storage, so buf may be discarded once this returns.
func Unmarshal(buf []byte) (*HeaderHeap, error) {
	if len(buf) < 16 {
		return nil, ErrCorruptImage
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != marshalMagic {
		return nil, ErrCorruptImage
	}
	wantSum := binary.LittleEndian.Uint64(buf[4:12])
	bodyLen := binary.LittleEndian.Uint32(buf[12:16])
	if len(buf) < 16+int(bodyLen) {
		return nil, ErrCorruptImage
	}
	body := buf[16 : 16+int(bodyLen)]
	sum := blake3.Sum256(body)
	if binary.LittleEndian.Uint64(sum[:8]) != wantSum {
		return nil, ErrCorruptImage
	}

	h := NewHeaderHeap()
	r := &rbuf{b: body}

	polarity, err := r.u8()
	if err != nil {
		return nil, err
	}
	major, err := r.u8()
	if err != nil {
		return nil, err
	}
	minor, err := r.u8()
	if err != nil {
		return nil, err
	}
	hasURL, err := r.u8()
	if err != nil {
		return nil, err
	}
	methodTokIdx, err := r.i32()
	if err != nil {
		return nil, err
	}
	methodOff, err := r.i32()
	if err != nil {
		return nil, err
	}
	methodLen, err := r.i32()
	if err != nil {
		return nil, err
	}
	statusCode, err := r.i32()
	if err != nil {
		return nil, err
	}
	reasonOff, err := r.i32()
	if err != nil {
		return nil, err
	}
	reasonLen, err := r.i32()
	if err != nil {
		return nil, err
	}

	obj := NewHTTPObj(h, Polarity(polarity))
	obj.MajorVersion, obj.MinorVersion = major, minor
	obj.StatusCode = statusCode
	if methodTokIdx >= 0 {
		obj.MethodTok = TokenAt(methodTokIdx)
	}

	var urlRec *decodedURL
	if hasURL != 0 {
		urlRec, err = decodeURLHeader(r)
		if err != nil {
			return nil, err
		}
	}
	mimeRec, err := decodeMIMEHeader(r)
	if err != nil {
		return nil, err
	}

	pool, err := r.raw(len(body) - r.off)
	if err != nil {
		return nil, err
	}

	if methodLen > 0 {
		ref, err := h.DuplicateString(sliceFromPool(pool, methodOff, methodLen))
		if err != nil {
			return nil, err
		}
		obj.Method = ref
	}
	if reasonLen > 0 {
		ref, err := h.DuplicateString(sliceFromPool(pool, reasonOff, reasonLen))
		if err != nil {
			return nil, err
		}
		obj.Reason = ref
	}
	if urlRec != nil {
		u, err := urlRec.materialize(h, pool)
		if err != nil {
			return nil, err
		}
		obj.URL = u
	}
	if err := mimeRec.materialize(h, obj.MIME, pool); err != nil {
		return nil, err
	}

	h.magic = MagicAlive
	return obj.heap, nil
}

func sliceFromPool(pool []byte, off, length int32) []byte {
	if length == 0 {
		return nil
	}
	return pool[off : off+length]
}

type decodedURL struct {
	schemeTokIdx int32
	port         int32
	offs         [9][2]int32 // (off, len) for scheme,user,password,host,portText,path,params,query,fragment
}

func decodeURLHeader(r *rbuf) (*decodedURL, error) {
	u := &decodedURL{}
	var err error
	if u.schemeTokIdx, err = r.i32(); err != nil {
		return nil, err
	}
	if u.port, err = r.i32(); err != nil {
		return nil, err
	}
	for i := 0; i < 9; i++ {
		off, err := r.i32()
		if err != nil {
			return nil, err
		}
		length, err := r.i32()
		if err != nil {
			return nil, err
		}
		u.offs[i] = [2]int32{off, length}
	}
	return u, nil
}

func (d *decodedURL) materialize(h *HeaderHeap, pool []byte) (*URLObj, error) {
	u := NewURLObj(h)
	if d.schemeTokIdx >= 0 {
		u.SchemeTok = TokenAt(d.schemeTokIdx)
	}
	u.Port = d.port
	fields := []*StrRef{&u.Scheme, &u.User, &u.Password, &u.Host, &u.PortText, &u.Path, &u.Params, &u.Query, &u.Fragment}
	for i, dst := range fields {
		off, length := d.offs[i][0], d.offs[i][1]
		if length == 0 {
			continue
		}
		ref, err := h.DuplicateString(sliceFromPool(pool, off, length))
		if err != nil {
			return nil, err
		}
		*dst = ref
	}
	u.invalidatePrint()
	return u, nil
}

type decodedField struct {
	nameTokIdx                       int32
	nameOff, nameLen                 int32
	valOff, valLen                   int32
	flags, cooked, deleted           uint8
	nextDupBlock, nextDupIdx         int32
}

type decodedBlock struct {
	fields []decodedField
}

type decodedMIME struct {
	ccMask        uint32
	dateSeconds   int64
	contentLength int64
	presence      uint64
	slots         [MaxSlots]uint8
	blocks        []decodedBlock
}

func decodeMIMEHeader(r *rbuf) (*decodedMIME, error) {
	m := &decodedMIME{}
	var err error
	if m.ccMask, err = r.u32(); err != nil {
		return nil, err
	}
	if m.dateSeconds, err = r.i64(); err != nil {
		return nil, err
	}
	if m.contentLength, err = r.i64(); err != nil {
		return nil, err
	}
	if m.presence, err = r.u64(); err != nil {
		return nil, err
	}
	slots, err := r.raw(MaxSlots)
	if err != nil {
		return nil, err
	}
	copy(m.slots[:], slots)

	blockCount, err := r.i32()
	if err != nil {
		return nil, err
	}
	m.blocks = make([]decodedBlock, blockCount)
	for bi := 0; bi < int(blockCount); bi++ {
		count, err := r.i32()
		if err != nil {
			return nil, err
		}
		fields := make([]decodedField, count)
		for i := 0; i < int(count); i++ {
			f := decodedField{}
			if f.nameTokIdx, err = r.i32(); err != nil {
				return nil, err
			}
			if f.nameOff, err = r.i32(); err != nil {
				return nil, err
			}
			if f.nameLen, err = r.i32(); err != nil {
				return nil, err
			}
			if f.valOff, err = r.i32(); err != nil {
				return nil, err
			}
			if f.valLen, err = r.i32(); err != nil {
				return nil, err
			}
			if f.flags, err = r.u8(); err != nil {
				return nil, err
			}
			if f.cooked, err = r.u8(); err != nil {
				return nil, err
			}
			if f.deleted, err = r.u8(); err != nil {
				return nil, err
			}
			if _, err = r.u8(); err != nil { // padding
				return nil, err
			}
			if f.nextDupBlock, err = r.i32(); err != nil {
				return nil, err
			}
			if f.nextDupIdx, err = r.i32(); err != nil {
				return nil, err
			}
			fields[i] = f
		}
		m.blocks[bi] = decodedBlock{fields: fields}
	}
	return m, nil
}

func (d *decodedMIME) materialize(h *HeaderHeap, m *MIMEHdr, pool []byte) error {
	m.CCMask = d.ccMask
	m.DateSeconds = d.dateSeconds
	m.ContentLength = d.contentLength
	m.Presence = d.presence
	m.Slots = d.slots

	// Rebuild the block chain first so cross-block NextDup targets can be
	// resolved by (block index, field index) once every block exists.
	blocks := make([]*FieldBlock, len(d.blocks))
	for i := range d.blocks {
		blocks[i] = newFieldBlock()
	}
	for i := 0; i+1 < len(blocks); i++ {
		blocks[i].next = blocks[i+1]
	}
	if len(blocks) > 0 {
		m.first = blocks[0]
		m.last = blocks[len(blocks)-1]
	}

	for bi, db := range d.blocks {
		b := blocks[bi]
		for _, df := range db.fields {
			nameRef, err := h.DuplicateString(sliceFromPool(pool, df.nameOff, df.nameLen))
			if err != nil {
				return err
			}
			valRef, err := h.DuplicateString(sliceFromPool(pool, df.valOff, df.valLen))
			if err != nil {
				return err
			}
			var tok *TokenEntry
			if df.nameTokIdx >= 0 {
				tok = TokenAt(df.nameTokIdx)
			}
			f := b.append(MIMEField{
				Name:    nameRef,
				NameTok: tok,
				Value:   valRef,
				Flags:   TokenFlags(df.flags),
				Cooked:  df.cooked != 0,
			})
			f.deleted = df.deleted != 0
		}
	}
	for bi, db := range d.blocks {
		for fi, df := range db.fields {
			if df.nextDupBlock < 0 {
				continue
			}
			blocks[bi].fields[fi].NextDup = &blocks[df.nextDupBlock].fields[df.nextDupIdx]
		}
	}
	m.invalidateIndex()
	return nil
}
