package core

import (
	"fmt"
	"strconv"
	"strings"

	sha256simd "github.com/minio/sha256-simd"
)

// URLStrictness controls how tolerant the URL parser is of malformed
// input (spec.md §4.4 "strictness modes").
type URLStrictness uint8

const (
	StrictnessOff URLStrictness = iota
	StrictnessMostly
	StrictnessStrict
)

// URLObj is a parsed URL: scheme, userinfo, host, port, path, params,
// query and fragment, each a string reference into the owning header
// heap, plus a lazily (re)computed canonical-print cache.
type URLObj struct {
	heap *HeaderHeap

	SchemeTok *TokenEntry
	Scheme    StrRef
	User      StrRef
	Password  StrRef
	Host      StrRef
	PortText  StrRef
	Port      int32 // 0 = not specified
	Path      StrRef
	Params    StrRef
	Query     StrRef
	Fragment  StrRef

	printCache []byte
	printClean bool
}

// NewURLObj allocates an empty URL object on heap.
func NewURLObj(heap *HeaderHeap) *URLObj {
	heap.AllocateObject(96, ObjTypeURL)
	return &URLObj{heap: heap}
}

func (u *URLObj) invalidatePrint() { u.printClean = false }

func (u *URLObj) forEachStrRef(visit func(*StrRef)) {
	visit(&u.Scheme)
	visit(&u.User)
	visit(&u.Password)
	visit(&u.Host)
	visit(&u.PortText)
	visit(&u.Path)
	visit(&u.Params)
	visit(&u.Query)
	visit(&u.Fragment)
}

// ParseURLError reports why URL parsing failed.
type ParseURLError struct{ Reason string }

func (e *ParseURLError) Error() string { return "core: url parse: " + e.Reason }

// ParseURL parses raw (an absolute-form or origin-form URL) into a new
// URLObj owned by heap, at the given strictness. Bytes are copied into
// the heap's own string storage; raw may be reused or discarded by the
// caller immediately after this returns.
func ParseURL(heap *HeaderHeap, raw []byte, strictness URLStrictness) (*URLObj, error) {
	if err := validateStrictness(raw, strictness); err != nil {
		return nil, err
	}

	u := NewURLObj(heap)
	rest := raw

	if i := indexByte(rest, ':'); i > 0 && looksLikeScheme(rest[:i]) {
		scheme := rest[:i]
		if tok := Tokenize(scheme); tok != nil && tok.Type == TokenScheme {
			u.SchemeTok = tok
		}
		ref, err := heap.DuplicateString(scheme)
		if err != nil {
			return nil, err
		}
		u.Scheme = ref
		rest = rest[i+1:]
	} else if strictness == StrictnessStrict {
		return nil, &ParseURLError{Reason: "missing scheme"}
	}

	if len(rest) >= 2 && rest[0] == '/' && rest[1] == '/' {
		rest = rest[2:]
		authEnd := len(rest)
		for i, c := range rest {
			if c == '/' || c == '?' || c == '#' {
				authEnd = i
				break
			}
		}
		auth := rest[:authEnd]
		rest = rest[authEnd:]
		if err := u.parseAuthority(auth, strictness); err != nil {
			return nil, err
		}
	}

	pathEnd := len(rest)
	for i, c := range rest {
		if c == '?' || c == '#' {
			pathEnd = i
			break
		}
	}
	path := rest[:pathEnd]
	rest = rest[pathEnd:]
	if i := indexByte(path, ';'); i >= 0 {
		if err := u.setField(&u.Path, path[:i]); err != nil {
			return nil, err
		}
		if err := u.setField(&u.Params, path[i+1:]); err != nil {
			return nil, err
		}
	} else if err := u.setField(&u.Path, path); err != nil {
		return nil, err
	}

	if len(rest) > 0 && rest[0] == '?' {
		rest = rest[1:]
		qEnd := len(rest)
		for i, c := range rest {
			if c == '#' {
				qEnd = i
				break
			}
		}
		if err := u.setField(&u.Query, rest[:qEnd]); err != nil {
			return nil, err
		}
		rest = rest[qEnd:]
	}
	if len(rest) > 0 && rest[0] == '#' {
		if err := u.setField(&u.Fragment, rest[1:]); err != nil {
			return nil, err
		}
	}

	u.invalidatePrint()
	return u, nil
}

func (u *URLObj) setField(dst *StrRef, b []byte) error {
	if len(b) == 0 {
		*dst = StrRef{}
		return nil
	}
	ref, err := u.heap.DuplicateString(b)
	if err != nil {
		return err
	}
	*dst = ref
	return nil
}

// parseAuthority parses "user:pass@host:port", including bracketed IPv6
// literals ("[::1]:8080").
func (u *URLObj) parseAuthority(auth []byte, strictness URLStrictness) error {
	hostport := auth
	if at := lastIndexByte(auth, '@'); at >= 0 {
		userinfo := auth[:at]
		hostport = auth[at+1:]
		if c := indexByte(userinfo, ':'); c >= 0 {
			if err := u.setField(&u.User, userinfo[:c]); err != nil {
				return err
			}
			if err := u.setField(&u.Password, userinfo[c+1:]); err != nil {
				return err
			}
		} else if err := u.setField(&u.User, userinfo); err != nil {
			return err
		}
	}

	if len(hostport) > 0 && hostport[0] == '[' {
		end := indexByte(hostport, ']')
		if end < 0 {
			return &ParseURLError{Reason: "unterminated IPv6 literal"}
		}
		if err := u.setField(&u.Host, hostport[:end+1]); err != nil {
			return err
		}
		rest := hostport[end+1:]
		if len(rest) > 0 && rest[0] == ':' {
			return u.setPort(rest[1:], strictness)
		}
		return nil
	}

	if c := lastIndexByte(hostport, ':'); c >= 0 {
		if err := u.setField(&u.Host, hostport[:c]); err != nil {
			return err
		}
		return u.setPort(hostport[c+1:], strictness)
	}
	return u.setField(&u.Host, hostport)
}

func (u *URLObj) setPort(b []byte, strictness URLStrictness) error {
	if err := u.setField(&u.PortText, b); err != nil {
		return err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil || n < 0 || n > 65535 {
		if strictness == StrictnessStrict {
			return &ParseURLError{Reason: "invalid port"}
		}
		u.Port = 0
		return nil
	}
	u.Port = int32(n)
	return nil
}

// validateStrictness enforces spec.md §4.4's per-character strictness
// modes over the raw URL bytes, before any component splitting happens:
// "off" checks nothing, "mostly" rejects whitespace and other
// non-printable bytes, and "strict" requires every byte to fall in RFC
// 3986's pchar ∪ reserved ∪ "%" — which also covers every delimiter the
// parser itself splits on ("://", ":", "@", "/", ";", "?", "#", "[", "]").
func validateStrictness(raw []byte, strictness URLStrictness) error {
	switch strictness {
	case StrictnessMostly:
		for _, c := range raw {
			if c < 0x21 || c == 0x7f {
				return &ParseURLError{Reason: fmt.Sprintf("whitespace or non-printable byte 0x%02x in URL", c)}
			}
		}
	case StrictnessStrict:
		for _, c := range raw {
			if !isStrictURLChar(c) {
				return &ParseURLError{Reason: fmt.Sprintf("byte 0x%02x not in pchar/reserved/%%", c)}
			}
		}
	}
	return nil
}

// isStrictURLChar reports whether c is in RFC 3986's
// pchar ∪ reserved ∪ "%": unreserved (ALPHA / DIGIT / "-._~"), gen-delims
// (":/?#[]@"), sub-delims ("!$&'()*+,;="), and the escape marker "%".
func isStrictURLChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~',
		':', '/', '?', '#', '[', ']', '@',
		'!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=',
		'%':
		return true
	}
	return false
}

func looksLikeScheme(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	c := b[0]
	if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return false
	}
	for _, c := range b[1:] {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func lastIndexByte(b []byte, c byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// Print renders the URL in canonical form, caching the result until the
// next mutation invalidates it.
func (u *URLObj) Print() []byte {
	if u.printClean {
		return u.printCache
	}
	var sb strings.Builder
	if len(u.Scheme.Bytes()) > 0 {
		sb.Write(u.Scheme.Bytes())
		sb.WriteByte(':')
	}
	if len(u.Host.Bytes()) > 0 {
		sb.WriteString("//")
		if len(u.User.Bytes()) > 0 {
			sb.Write(u.User.Bytes())
			if len(u.Password.Bytes()) > 0 {
				sb.WriteByte(':')
				sb.Write(u.Password.Bytes())
			}
			sb.WriteByte('@')
		}
		sb.Write(u.Host.Bytes())
		if u.Port != 0 {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(int(u.Port)))
		}
	}
	sb.Write(u.Path.Bytes())
	if len(u.Params.Bytes()) > 0 {
		sb.WriteByte(';')
		sb.Write(u.Params.Bytes())
	}
	if len(u.Query.Bytes()) > 0 {
		sb.WriteByte('?')
		sb.Write(u.Query.Bytes())
	}
	if len(u.Fragment.Bytes()) > 0 {
		sb.WriteByte('#')
		sb.Write(u.Fragment.Bytes())
	}
	u.printCache = []byte(sb.String())
	u.printClean = true
	return u.printCache
}

// -----------------------------------------------------------------------------
// Cache-key digest. The fast path only applies under the preconditions
// original_source/proxy/hdrs/URL.cc's url_CryptoHash_get checks before
// calling url_CryptoHash_get_fast: http/https scheme, no user/password/
// params/query, no '%' in host or path, and a bounded buffer. Under those
// preconditions unescaping is a no-op, so the fast path skips it and only
// lowercases scheme/host; the general path always unescapes first (then
// lowercases scheme/host, leaves everything else as unescaped-only) so
// mixed-case and percent-encoded variants of the same URL land on the same
// cache key. The two paths must agree bit-for-bit whenever the fast path's
// preconditions hold — that agreement is exercised in url_test.go.
// -----------------------------------------------------------------------------

const fastDigestBufSize = 512

// NoCacheGeneration disables mixing a cache-generation salt into Digest,
// matching spec.md §6's "-1 disables mixing" tunable contract.
const NoCacheGeneration int64 = -1

// Digest computes the cache lookup key for this URL: scheme, host, port
// and path+params+query (fragment is never part of a cache key), mixed
// with an optional cache-generation salt (any value other than
// NoCacheGeneration, including zero), via SHA-256.
func (u *URLObj) Digest(generation int64) [32]byte {
	if u.digestFastPathApplies() {
		var buf [fastDigestBufSize]byte
		w := u.writeDigestInput(buf[:0], generation)
		return sha256simd.Sum256(w)
	}
	h := sha256simd.New()
	u.streamDigestInput(h, generation)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// digestFastPathApplies mirrors url_CryptoHash_get's guard: http(s) scheme,
// no user/password/params/query, no percent-encoding in host or path, and
// the fast-path buffer is large enough to hold the whole input.
func (u *URLObj) digestFastPathApplies() bool {
	scheme := u.Scheme.Bytes()
	if !equalFold("http", scheme) && !equalFold("https", scheme) {
		return false
	}
	if len(u.User.Bytes()) > 0 || len(u.Password.Bytes()) > 0 ||
		len(u.Params.Bytes()) > 0 || len(u.Query.Bytes()) > 0 {
		return false
	}
	if indexByte(u.Host.Bytes(), '%') >= 0 || indexByte(u.Path.Bytes(), '%') >= 0 {
		return false
	}
	return u.fastDigestLen() <= fastDigestBufSize
}

// fastDigestLen bounds the fast-path buffer: scheme + "://" + ":" + "@" +
// host + "/" + path + ";" + "?" + a 2-byte port, plus room for the
// optional generation suffix.
func (u *URLObj) fastDigestLen() int {
	return len(u.Scheme.Bytes()) + 3 + 1 + 1 + len(u.Host.Bytes()) + 1 +
		len(u.Path.Bytes()) + 1 + 1 + 2 + 1 + 20
}

// writeDigestInput builds the fast-path digest input. No unescaping is
// needed — digestFastPathApplies already ruled out any '%' in host or
// path — but scheme and host are still lowercased so a mixed-case request
// line maps to the same cache key as its canonical form.
func (u *URLObj) writeDigestInput(dst []byte, generation int64) []byte {
	dst = appendLower(dst, u.Scheme.Bytes())
	dst = append(dst, ':', '/', '/')
	dst = append(dst, ':') // no user
	dst = append(dst, '@') // no password
	dst = appendLower(dst, u.Host.Bytes())
	dst = append(dst, '/')
	dst = append(dst, u.Path.Bytes()...)
	dst = append(dst, ';') // no params
	dst = append(dst, '?') // no query
	dst = appendDigestPort(dst, u.Port)
	dst = appendDigestGeneration(dst, generation)
	return dst
}

type digestWriter interface {
	Write(p []byte) (int, error)
}

// streamDigestInput builds the general-path digest input a component at a
// time: scheme and host are unescaped then lowercased, every other
// component is unescaped only, matching
// original_source/proxy/hdrs/URL.cc's url_CryptoHash_get_general.
func (u *URLObj) streamDigestInput(w digestWriter, generation int64) {
	writeUnescapedLower(w, u.Scheme.Bytes())
	_, _ = w.Write([]byte("://"))
	writeUnescaped(w, u.User.Bytes())
	_, _ = w.Write([]byte(":"))
	writeUnescaped(w, u.Password.Bytes())
	_, _ = w.Write([]byte("@"))
	writeUnescapedLower(w, u.Host.Bytes())
	_, _ = w.Write([]byte("/"))
	writeUnescaped(w, u.Path.Bytes())
	_, _ = w.Write([]byte(";"))
	writeUnescaped(w, u.Params.Bytes())
	_, _ = w.Write([]byte("?"))
	writeUnescaped(w, u.Query.Bytes())
	_, _ = w.Write(appendDigestPort(nil, u.Port))
	if gen := appendDigestGeneration(nil, generation); len(gen) > 0 {
		_, _ = w.Write(gen)
	}
}

// appendDigestPort appends the canonical 16-bit port as two raw bytes,
// matching url_CryptoHash_get's in-place cast of a uint16_t port onto the
// digest buffer.
func appendDigestPort(dst []byte, port int32) []byte {
	p := uint16(port)
	return append(dst, byte(p), byte(p>>8))
}

// appendDigestGeneration appends the cache-generation salt, or nothing
// when mixing is disabled (spec.md §6).
func appendDigestGeneration(dst []byte, generation int64) []byte {
	if generation == NoCacheGeneration {
		return dst
	}
	dst = append(dst, 0)
	return strconv.AppendInt(dst, generation, 10)
}

func appendLower(dst, b []byte) []byte {
	for _, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		dst = append(dst, c)
	}
	return dst
}

func writeUnescaped(w digestWriter, b []byte) {
	if len(b) == 0 {
		return
	}
	_, _ = w.Write(appendUnescape(nil, b))
}

func writeUnescapedLower(w digestWriter, b []byte) {
	if len(b) == 0 {
		return
	}
	_, _ = w.Write(appendUnescapeLower(nil, b))
}

// appendUnescape percent-decodes b, passing through any "%" not followed
// by two hex digits literally rather than treating it as an error — the
// digest input has no way to report one.
func appendUnescape(dst, b []byte) []byte {
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c == '%' && i+2 < len(b) && isHexDigit(b[i+1]) && isHexDigit(b[i+2]) {
			c = hexDigitVal(b[i+1])<<4 | hexDigitVal(b[i+2])
			i += 2
		}
		dst = append(dst, c)
	}
	return dst
}

func appendUnescapeLower(dst, b []byte) []byte {
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c == '%' && i+2 < len(b) && isHexDigit(b[i+1]) && isHexDigit(b[i+2]) {
			c = hexDigitVal(b[i+1])<<4 | hexDigitVal(b[i+2])
			i += 2
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		dst = append(dst, c)
	}
	return dst
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexDigitVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
