package core

import "testing"

func TestTokenizeKnownAndUnknown(t *testing.T) {
	InitTokenTable()

	cases := []struct {
		in   string
		want bool
	}{
		{"Host", true},
		{"host", true},
		{"HOST", true},
		{"Content-Length", true},
		{"X-My-Custom-Header", false},
		{"GET", true},
		{"get", true},
		{"http", true},
		{"gopher", false},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got := Tokenize([]byte(c.in))
			if (got != nil) != c.want {
				t.Fatalf("Tokenize(%q) = %v, want present=%v", c.in, got, c.want)
			}
		})
	}
}

func TestInternStability(t *testing.T) {
	InitTokenTable()
	a := Tokenize([]byte("Host"))
	b := Tokenize([]byte("HOST"))
	c := Tokenize([]byte("host"))
	if a == nil || b == nil || c == nil {
		t.Fatal("expected Host to be interned")
	}
	if a != b || b != c {
		t.Fatalf("intern(Host) pointer not stable across case variants: %p %p %p", a, b, c)
	}
}

func TestIsInternedPointerRangeCheck(t *testing.T) {
	InitTokenTable()
	host := Tokenize([]byte("Host"))
	if !IsInterned(host) {
		t.Fatal("expected Host token to be interned")
	}
	forged := &TokenEntry{Text: "Host"}
	if IsInterned(forged) {
		t.Fatal("a TokenEntry built outside the frozen table must not test as interned")
	}
	if IsInterned(nil) {
		t.Fatal("nil must not test as interned")
	}
}

func TestPresenceSlotAssignment(t *testing.T) {
	InitTokenTable()
	host := Tokenize([]byte("Host"))
	if !host.HasSlot() {
		t.Fatal("Host is one of the 32 common fields and must have a slot")
	}
	if host.PresenceBit != uint64(1)<<host.SlotID {
		t.Fatalf("presence bit %#x does not match slot %d", host.PresenceBit, host.SlotID)
	}

	xff := Tokenize([]byte("X-Forwarded-For"))
	if xff == nil {
		t.Fatal("X-Forwarded-For should be interned")
	}
	if xff.HasSlot() {
		t.Fatal("X-Forwarded-For is not one of the 32 common fields and must have no slot")
	}
}

func TestTokenFlags(t *testing.T) {
	InitTokenTable()
	via := Tokenize([]byte("Via"))
	if via == nil || via.Flags&FlagCommas == 0 {
		t.Fatal("Via must be comma-joinable")
	}
	setCookie := Tokenize([]byte("Set-Cookie"))
	if setCookie == nil || setCookie.Flags&FlagCommas != 0 {
		t.Fatal("Set-Cookie must not be comma-joined")
	}
	connection := Tokenize([]byte("Connection"))
	if connection == nil || connection.Flags&FlagHopByHop == 0 {
		t.Fatal("Connection must be hop-by-hop")
	}
}

func TestMethodRecognizerStreaming(t *testing.T) {
	r := NewMethodRecognizer()
	for _, c := range []byte("GET") {
		if !r.Feed(c) {
			t.Fatalf("recognizer rejected byte %q of GET", c)
		}
	}
	got := r.Match()
	if got == nil || got.Text != "GET" {
		t.Fatalf("expected GET to be recognized, got %v", got)
	}
}

func TestMethodRecognizerRejectsUnknown(t *testing.T) {
	r := NewMethodRecognizer()
	for _, c := range []byte("ZZZZ") {
		r.Feed(c)
	}
	if got := r.Match(); got != nil {
		t.Fatalf("expected no match for ZZZZ, got %v", got)
	}
}

func TestTokenTableIndexRoundTrip(t *testing.T) {
	InitTokenTable()
	host := Tokenize([]byte("Host"))
	again := TokenAt(host.Index())
	if again != host {
		t.Fatalf("TokenAt(Index()) did not return the same pointer")
	}
}
