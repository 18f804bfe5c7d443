package core

import (
	"strings"
	"testing"
)

func buildSampleRequest(t *testing.T) *HTTPObj {
	t.Helper()
	InitTokenTable()
	raw := "GET /a/b?x=1 HTTP/1.1\r\nHost: example.com\r\nVia: 1.1 p1\r\nVia: 1.1 p2\r\nX-Custom: hello\r\n\r\n"
	h := NewHeaderHeap()
	obj, err := ParseHTTPMessage(h, strings.NewReader(raw), PolarityRequest, StrictnessOff)
	if err != nil {
		t.Fatalf("build sample: %v", err)
	}
	return obj
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	obj := buildSampleRequest(t)
	h := obj.heap

	n, err := h.MarshalLength()
	if err != nil {
		t.Fatalf("MarshalLength: %v", err)
	}
	buf := make([]byte, n)
	written, err := h.Marshal(buf)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if written != n {
		t.Fatalf("Marshal wrote %d bytes, MarshalLength predicted %d", written, n)
	}
	if h.Magic() != MagicMarshaled {
		t.Fatalf("heap magic = %v, want marshaled", h.Magic())
	}

	gotHeap, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got := gotHeap.Root

	if string(got.Method.Bytes()) != "GET" {
		t.Fatalf("method = %q", got.Method.Bytes())
	}
	if got.URL == nil || string(got.URL.Path.Bytes()) != "/a/b" || string(got.URL.Query.Bytes()) != "x=1" {
		t.Fatalf("url = %+v", got.URL)
	}

	hostTok := Tokenize([]byte("Host"))
	f, res := got.MIME.Find(hostTok, nil)
	if res != FieldOK || string(f.Value.Bytes()) != "example.com" {
		t.Fatalf("Host after round trip = %v %v", f, res)
	}

	viaTok := Tokenize([]byte("Via"))
	values := got.MIME.Values(viaTok)
	if len(values) != 1 || values[0] != "1.1 p1, 1.1 p2" {
		t.Fatalf("Via after round trip = %v", values)
	}

	xf, res := got.MIME.Find(nil, []byte("x-custom"))
	if res != FieldOK || string(xf.Value.Bytes()) != "hello" {
		t.Fatalf("X-Custom after round trip = %v %v", xf, res)
	}
}

func TestMarshalRejectsUnlocalizedExternalString(t *testing.T) {
	InitTokenTable()
	h := NewHeaderHeap()
	obj := NewHTTPObj(h, PolarityRequest)
	external := []byte("borrowed-bytes")
	obj.Reason = External(external)

	if _, err := h.MarshalLength(); err != ErrUnlocalizedString {
		t.Fatalf("expected ErrUnlocalizedString, got %v", err)
	}
}

func TestUnmarshalDetectsCorruption(t *testing.T) {
	obj := buildSampleRequest(t)
	h := obj.heap
	buf := make([]byte, mustLen(t, h))
	if _, err := h.Marshal(buf); err != nil {
		t.Fatal(err)
	}
	buf[20] ^= 0xFF // flip a bit deep in the body

	if _, err := Unmarshal(buf); err != ErrCorruptImage {
		t.Fatalf("expected ErrCorruptImage, got %v", err)
	}
}

func mustLen(t *testing.T, h *HeaderHeap) int {
	t.Helper()
	n, err := h.MarshalLength()
	if err != nil {
		t.Fatal(err)
	}
	return n
}
