package core

import (
	"errors"
	"fmt"
	"io"
)

// MaxLineSize bounds a single header or request/status line, matching the
// source's hard per-line cap against unbounded memory growth from a
// pathological peer (spec.md §4.6).
const MaxLineSize = 64 * 1024

var (
	// ErrLineTooLong is returned when a line exceeds MaxLineSize.
	ErrLineTooLong = errors.New("core: header line exceeds 64KiB limit")
	// ErrHTTP09 is returned for a status/request line that looks like the
	// line-oriented HTTP/0.9 wire format, which this parser never accepts.
	ErrHTTP09 = errors.New("core: HTTP/0.9 is not supported")
)

// cutLine splits buf at its first line terminator, returning the line with
// the terminator stripped and the bytes left over after it. ok is false
// when buf holds no complete line yet, which is how HTTPParser.Parse
// recognizes it needs more input before it can make progress.
func cutLine(buf []byte) (line, rest []byte, ok bool) {
	idx := indexByte(buf, '\n')
	if idx < 0 {
		return nil, buf, false
	}
	line = buf[:idx]
	rest = buf[idx+1:]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, rest, true
}

// HTTPParser parses one request or response message across any number of
// Parse calls, the way the source's transaction state machine feeds a
// connection's bytes to the header parser as they arrive off the wire
// rather than blocking a goroutine per connection on a full read
// (spec.md §5, §7). A caller that already holds the complete message, or
// is fine blocking until it does, can use ParseHTTPMessage instead.
type HTTPParser struct {
	heap       *HeaderHeap
	polarity   Polarity
	strictness URLStrictness

	obj             *HTTPObj
	buf             []byte
	lastField       *MIMEField
	parsedFirstLine bool
	done            bool
}

// NewHTTPParser creates a parser for one message of the given polarity.
// The returned object is populated incrementally as Parse consumes bytes;
// Object returns it directly, so a caller may start reading fields the
// parser has already committed before ParseDone is reached.
func NewHTTPParser(heap *HeaderHeap, polarity Polarity, strictness URLStrictness) *HTTPParser {
	return &HTTPParser{
		heap:       heap,
		polarity:   polarity,
		strictness: strictness,
		obj:        NewHTTPObj(heap, polarity),
	}
}

// Object returns the message object the parser is filling in.
func (p *HTTPParser) Object() *HTTPObj { return p.obj }

// Parse feeds chunk to the parser and advances as far as the buffered
// input allows. It returns ParseCont when the line or field in progress
// is incomplete and the caller must supply more bytes in a later call,
// ParseDone once the header section has been fully parsed and validated,
// or ParseError when the input is malformed beyond recovery — at which
// point the caller must discard the parser rather than call Parse again.
func (p *HTTPParser) Parse(chunk []byte) (ParseResult, error) {
	if p.done {
		return ParseDone, nil
	}
	if len(chunk) > 0 {
		p.buf = append(p.buf, chunk...)
	}

	for {
		line, rest, ok := cutLine(p.buf)
		if !ok {
			if len(p.buf) > MaxLineSize {
				return ParseError, ErrLineTooLong
			}
			return ParseCont, nil
		}
		if len(line) > MaxLineSize {
			return ParseError, ErrLineTooLong
		}
		p.buf = rest

		if !p.parsedFirstLine {
			if err := p.parseFirstLine(line); err != nil {
				return ParseError, err
			}
			p.parsedFirstLine = true
			continue
		}

		if len(line) == 0 {
			if err := validateHostAndLength(p.obj, p.polarity); err != nil {
				return ParseError, err
			}
			p.done = true
			return ParseDone, nil
		}

		if (line[0] == ' ' || line[0] == '\t') && p.lastField != nil {
			if err := foldContinuation(p.heap, p.lastField, line); err != nil {
				return ParseError, err
			}
			continue
		}

		f, err := parseHeaderLine(p.obj, line)
		if err != nil {
			return ParseError, err
		}
		p.lastField = f
	}
}

func (p *HTTPParser) parseFirstLine(line []byte) error {
	if p.polarity == PolarityRequest {
		if err := parseRequestLineFast(p.obj, line, p.strictness); err != nil {
			if err := parseRequestLineSlow(p.obj, line, p.strictness); err != nil {
				return err
			}
		}
		return nil
	}
	if err := parseStatusLineFast(p.obj, line); err != nil {
		if err := parseStatusLineSlow(p.obj, line); err != nil {
			return err
		}
	}
	return nil
}

// ParseHTTPMessage reads one request or response message from r into a
// fresh object on heap. It drives HTTPParser to completion, blocking on r
// whenever the parser reports ParseCont; callers that receive bytes as
// they arrive off a connection (rather than from a reader that blocks
// until the next chunk exists) should drive HTTPParser directly instead.
func ParseHTTPMessage(heap *HeaderHeap, r io.Reader, polarity Polarity, strictness URLStrictness) (*HTTPObj, error) {
	p := NewHTTPParser(heap, polarity, strictness)
	chunk := make([]byte, 4096)
	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			res, err := p.Parse(chunk[:n])
			switch res {
			case ParseError:
				return nil, err
			case ParseDone:
				return p.Object(), nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil, errors.New("core: truncated HTTP message")
			}
			return nil, wrapf(readErr, "read HTTP message")
		}
	}
}

// parseRequestLineFast matches the overwhelmingly common
// "METHOD SP request-target SP HTTP/major.minor" shape directly, falling
// back to the slow path on anything unusual.
func parseRequestLineFast(obj *HTTPObj, line []byte, strictness URLStrictness) error {
	sp1 := indexByte(line, ' ')
	if sp1 <= 0 {
		return errors.New("core: malformed request line")
	}
	method := line[:sp1]
	rest := line[sp1+1:]
	sp2 := lastIndexByte(rest, ' ')
	if sp2 <= 0 {
		return errors.New("core: malformed request line")
	}
	target := rest[:sp2]
	if target[0] == ' ' || target[len(target)-1] == ' ' {
		return errors.New("core: malformed request line")
	}
	version := rest[sp2+1:]

	major, minor, ok := parseHTTPVersion(version)
	if !ok {
		return ErrHTTP09
	}
	if err := obj.SetMethod(method); err != nil {
		return err
	}
	obj.MajorVersion, obj.MinorVersion = major, minor

	u, err := ParseURL(obj.heap, target, strictness)
	if err != nil {
		return err
	}
	obj.URL = u
	return nil
}

func parseRequestLineSlow(obj *HTTPObj, line []byte, strictness URLStrictness) error {
	// The slow path tolerates runs of extra spaces between fields, which
	// the fast path's single-space split does not.
	fields := splitFields(line)
	if len(fields) != 3 {
		return fmt.Errorf("core: malformed request line %q", line)
	}
	major, minor, ok := parseHTTPVersion(fields[2])
	if !ok {
		return ErrHTTP09
	}
	if err := obj.SetMethod(fields[0]); err != nil {
		return err
	}
	obj.MajorVersion, obj.MinorVersion = major, minor
	u, err := ParseURL(obj.heap, fields[1], strictness)
	if err != nil {
		return err
	}
	obj.URL = u
	return nil
}

func parseStatusLineFast(obj *HTTPObj, line []byte) error {
	if len(line) < 12 || string(line[:5]) != "HTTP/" {
		return errors.New("core: malformed status line")
	}
	sp := indexByte(line, ' ')
	if sp < 0 {
		return errors.New("core: malformed status line")
	}
	version := line[:sp]
	major, minor, ok := parseHTTPVersion(version)
	if !ok {
		return ErrHTTP09
	}
	rest := line[sp+1:]
	sp2 := indexByte(rest, ' ')
	var codeBytes, reason []byte
	if sp2 < 0 {
		codeBytes = rest
	} else {
		codeBytes, reason = rest[:sp2], rest[sp2+1:]
	}
	code, ok := parseStatusCode(codeBytes)
	if !ok {
		return fmt.Errorf("core: malformed status code %q", codeBytes)
	}
	obj.MajorVersion, obj.MinorVersion = major, minor
	obj.StatusCode = code
	return obj.SetReason(reason)
}

func parseStatusLineSlow(obj *HTTPObj, line []byte) error {
	fields := splitFields(line)
	if len(fields) < 2 || len(fields[0]) < 6 || string(fields[0][:5]) != "HTTP/" {
		return errors.New("core: malformed status line")
	}
	major, minor, ok := parseHTTPVersion(fields[0])
	if !ok {
		return ErrHTTP09
	}
	code, ok := parseStatusCode(fields[1])
	if !ok {
		return fmt.Errorf("core: malformed status code %q", fields[1])
	}
	obj.MajorVersion, obj.MinorVersion = major, minor
	obj.StatusCode = code
	if len(fields) > 2 {
		return obj.SetReason(fields[2])
	}
	return obj.SetReason(nil)
}

func splitFields(line []byte) [][]byte {
	var out [][]byte
	i := 0
	for i < len(line) {
		for i < len(line) && line[i] == ' ' {
			i++
		}
		start := i
		for i < len(line) && line[i] != ' ' {
			i++
		}
		if i > start {
			out = append(out, line[start:i])
		}
	}
	return out
}

// parseHTTPVersion rejects HTTP/0.x outright, matching spec.md §4.6:
// "HTTP/0.9 is rejected as a protocol error for both sides". 0.9 has no
// version token on the wire, but a peer that sends one literally (e.g.
// "HTTP/0.9") must be refused the same way a version-less request line
// already is, rather than parsing to major==0 and slipping past the
// Host/status-line checks that only fire for major>=1.
func parseHTTPVersion(b []byte) (major, minor uint8, ok bool) {
	if len(b) != 8 || string(b[:5]) != "HTTP/" || b[6] != '.' {
		return 0, 0, false
	}
	if b[5] < '0' || b[5] > '9' || b[7] < '0' || b[7] > '9' {
		return 0, 0, false
	}
	if b[5] == '0' {
		return 0, 0, false
	}
	return b[5] - '0', b[7] - '0', true
}

func parseStatusCode(b []byte) (int32, bool) {
	if len(b) != 3 {
		return 0, false
	}
	var n int32
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int32(c-'0')
	}
	return n, true
}

func parseHeaderLine(obj *HTTPObj, line []byte) (*MIMEField, error) {
	colon := indexByte(line, ':')
	if colon < 0 {
		return nil, fmt.Errorf("core: malformed header line %q", line)
	}
	name := line[:colon]
	value := trimSpace(line[colon+1:])

	tok := Tokenize(name)
	nameRef, err := obj.heap.DuplicateString(name)
	if err != nil {
		return nil, err
	}
	valueRef, err := obj.heap.DuplicateString(value)
	if err != nil {
		return nil, err
	}
	return obj.MIME.AppendField(nameRef, tok, valueRef), nil
}

// validateHostGrammar enforces spec.md §4.6's Host grammar: at most one
// Host field, split into (addr, port, rest) on the first colon not inside
// brackets, an all-digit port in [1, 65535], addr restricted to
// is_host_char bytes, and rest (if any) whitespace only.
func validateHostGrammar(obj *HTTPObj) error {
	hostTok := Tokenize([]byte("Host"))
	f, res := obj.MIME.Find(hostTok, nil)
	if res != FieldOK {
		return nil
	}
	if f.NextDup != nil {
		return errors.New("core: duplicate Host header")
	}
	value := f.Value.Bytes()

	addr, port, rest := splitHostPort(value)
	if len(port) > 0 {
		for _, c := range port {
			if c < '0' || c > '9' {
				return fmt.Errorf("core: invalid Host port %q", port)
			}
		}
		n := 0
		for _, c := range port {
			n = n*10 + int(c-'0')
		}
		if n < 1 || n > 65535 {
			return fmt.Errorf("core: Host port %q out of range", port)
		}
	}
	for _, c := range addr {
		if !isHostChar(c) {
			return fmt.Errorf("core: invalid character in Host %q", value)
		}
	}
	for _, c := range rest {
		if c != ' ' && c != '\t' {
			return fmt.Errorf("core: trailing garbage in Host %q", value)
		}
	}
	return nil
}

// splitHostPort splits a Host header value into (addr, port, rest),
// locating the first colon that is not inside a bracketed IPv6 literal. If
// no such colon exists, port and rest are empty.
func splitHostPort(value []byte) (addr, port, rest []byte) {
	depth := 0
	for i, c := range value {
		switch c {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 {
				addr = value[:i]
				tail := value[i+1:]
				j := 0
				for j < len(tail) && tail[j] >= '0' && tail[j] <= '9' {
					j++
				}
				return addr, tail[:j], tail[j:]
			}
		}
	}
	return value, nil, nil
}

// isHostChar reports whether c is permitted in a Host header's address
// component: alphanumerics, '-', '.', '[', ']', '_', ':', '~', '%'
// (spec.md §4.6).
func isHostChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '[', ']', '_', ':', '~', '%':
		return true
	}
	return false
}

// foldContinuation implements the permissive obs-fold handling RFC 7230
// §3.2.4 allows a recipient to apply: a line beginning with SP/HTB is
// joined onto the previous field's value with a single space, rather than
// being rejected outright.
func foldContinuation(heap *HeaderHeap, field *MIMEField, line []byte) error {
	cont := trimSpace(line)
	joined := make([]byte, 0, len(field.Value.Bytes())+1+len(cont))
	joined = append(joined, field.Value.Bytes()...)
	joined = append(joined, ' ')
	joined = append(joined, cont...)
	ref, err := heap.DuplicateString(joined)
	if err != nil {
		return err
	}
	field.Value = ref
	return nil
}

// validateHostAndLength enforces the two invariants spec.md §4.6 calls
// out by name: a request must carry exactly one usable Host, and
// Content-Length/Transfer-Encoding conflicts are resolved (never silently
// accepted) per RFC 7230 §3.3.3.
func validateHostAndLength(obj *HTTPObj, polarity Polarity) error {
	if polarity == PolarityRequest {
		if obj.MajorVersion > 1 || (obj.MajorVersion == 1 && obj.MinorVersion >= 1) {
			hostTok := Tokenize([]byte("Host"))
			if !obj.MIME.Present(hostTok) {
				if obj.URL == nil || len(obj.URL.Host.Bytes()) == 0 {
					return errors.New("core: HTTP/1.1 request missing Host")
				}
			}
		}
		if err := validateHostGrammar(obj); err != nil {
			return err
		}
	}

	teTok := Tokenize([]byte("Transfer-Encoding"))
	clTok := Tokenize([]byte("Content-Length"))
	hasTE := obj.MIME.Present(teTok)
	hasCL := obj.MIME.Present(clTok)

	if hasTE && hasCL {
		// RFC 7230 §3.3.3 step 3: a sender MUST remove Content-Length
		// when Transfer-Encoding is present; a recipient MUST reject or
		// strip it rather than trust either blindly. We strip it, which
		// also means a malformed Content-Length alongside a valid
		// Transfer-Encoding never needs to be reported.
		obj.MIME.DeleteAll(clTok)
		obj.MIME.ContentLength = -1
		obj.MIME.ContentLengthInvalid = false
		return nil
	}
	if hasCL {
		if obj.MIME.ContentLengthInvalid {
			return errors.New("core: Content-Length has a non-digit byte")
		}
		values := obj.MIME.Values(clTok)
		for i := 1; i < len(values); i++ {
			if values[i] != values[0] {
				return errors.New("core: conflicting Content-Length values")
			}
		}
	}
	return nil
}
