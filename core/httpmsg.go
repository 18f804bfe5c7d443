package core

// Polarity distinguishes a request object from a response object sharing
// the same underlying MIME header machinery (spec.md §3 "HTTP object").
type Polarity uint8

const (
	PolarityRequest Polarity = iota
	PolarityResponse
)

// HTTPObj is the top-level object a header heap owns: a request or
// response line plus its MIME header.
type HTTPObj struct {
	heap *HeaderHeap

	Polarity     Polarity
	MajorVersion uint8
	MinorVersion uint8

	// Request line.
	MethodTok *TokenEntry
	Method    StrRef // verbatim bytes, even when MethodTok is set (casing survives round-trip)
	URL       *URLObj

	// Status line.
	StatusCode int32
	Reason     StrRef

	MIME *MIMEHdr
}

// NewHTTPObj allocates an empty HTTP object with its own MIME header on
// heap, and records it as the heap's root for marshal/coalesce traversal.
func NewHTTPObj(heap *HeaderHeap, polarity Polarity) *HTTPObj {
	heap.AllocateObject(48, ObjTypeHTTP)
	h := &HTTPObj{heap: heap, Polarity: polarity, MIME: NewMIMEHdr(heap)}
	heap.Root = h
	return h
}

// SetMethod interns method if it is one of the known verbs, while always
// retaining the verbatim bytes so an unusual casing survives a
// parse/marshal/print round trip.
func (h *HTTPObj) SetMethod(b []byte) error {
	ref, err := h.heap.DuplicateString(b)
	if err != nil {
		return err
	}
	h.Method = ref
	h.MethodTok = Tokenize(b)
	if h.MethodTok != nil && h.MethodTok.Type != TokenMethod {
		h.MethodTok = nil
	}
	return nil
}

// SetReason sets the status-line reason phrase.
func (h *HTTPObj) SetReason(b []byte) error {
	ref, err := h.heap.DuplicateString(b)
	if err != nil {
		return err
	}
	h.Reason = ref
	return nil
}

func (h *HTTPObj) forEachStrRef(visit func(*StrRef)) {
	visit(&h.Method)
	visit(&h.Reason)
	if h.URL != nil {
		h.URL.forEachStrRef(visit)
	}
	if h.MIME != nil {
		h.MIME.forEachStrRef(visit)
	}
}
