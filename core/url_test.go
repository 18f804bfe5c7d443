package core

import (
	"testing"

	sha256simd "github.com/minio/sha256-simd"
)

func TestParseURLAbsoluteForm(t *testing.T) {
	InitTokenTable()
	h := NewHeaderHeap()
	u, err := ParseURL(h, []byte("http://user:pw@example.com:8080/a/b;p=1?q=2#frag"), StrictnessOff)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	check := func(name string, got, want string) {
		t.Helper()
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	check("scheme", string(u.Scheme.Bytes()), "http")
	check("user", string(u.User.Bytes()), "user")
	check("password", string(u.Password.Bytes()), "pw")
	check("host", string(u.Host.Bytes()), "example.com")
	check("path", string(u.Path.Bytes()), "/a/b")
	check("params", string(u.Params.Bytes()), "p=1")
	check("query", string(u.Query.Bytes()), "q=2")
	check("fragment", string(u.Fragment.Bytes()), "frag")
	if u.Port != 8080 {
		t.Errorf("port = %d, want 8080", u.Port)
	}
	if u.SchemeTok == nil {
		t.Error("http scheme should be interned")
	}
}

func TestParseURLOriginForm(t *testing.T) {
	h := NewHeaderHeap()
	u, err := ParseURL(h, []byte("/index.html?x=1"), StrictnessOff)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(u.Path.Bytes()) != "/index.html" {
		t.Fatalf("path = %q", u.Path.Bytes())
	}
	if string(u.Query.Bytes()) != "x=1" {
		t.Fatalf("query = %q", u.Query.Bytes())
	}
	if len(u.Host.Bytes()) != 0 {
		t.Fatalf("origin-form URL should have no host, got %q", u.Host.Bytes())
	}
}

func TestParseURLIPv6Host(t *testing.T) {
	h := NewHeaderHeap()
	u, err := ParseURL(h, []byte("http://[::1]:9000/p"), StrictnessOff)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(u.Host.Bytes()) != "[::1]" {
		t.Fatalf("host = %q, want [::1]", u.Host.Bytes())
	}
	if u.Port != 9000 {
		t.Fatalf("port = %d, want 9000", u.Port)
	}
}

func TestParseURLStrictModeRejectsMissingScheme(t *testing.T) {
	h := NewHeaderHeap()
	if _, err := ParseURL(h, []byte("example.com/x"), StrictnessStrict); err == nil {
		t.Fatal("strict mode should reject a schemeless absolute-looking URL")
	}
}

func TestParseURLMostlyRejectsWhitespace(t *testing.T) {
	h := NewHeaderHeap()
	if _, err := ParseURL(h, []byte("http://example.com/a b"), StrictnessMostly); err == nil {
		t.Fatal("mostly mode should reject a literal space in the URL")
	}
}

func TestParseURLMostlyRejectsControlByte(t *testing.T) {
	h := NewHeaderHeap()
	if _, err := ParseURL(h, []byte("http://example.com/a\x01b"), StrictnessMostly); err == nil {
		t.Fatal("mostly mode should reject a non-printable control byte")
	}
}

func TestParseURLMostlyAcceptsOrdinaryURL(t *testing.T) {
	h := NewHeaderHeap()
	if _, err := ParseURL(h, []byte("http://example.com/a/b?q=1"), StrictnessMostly); err != nil {
		t.Fatalf("mostly mode should accept an ordinary URL: %v", err)
	}
}

func TestParseURLStrictRejectsDisallowedByte(t *testing.T) {
	h := NewHeaderHeap()
	if _, err := ParseURL(h, []byte("http://example.com/a<b>"), StrictnessStrict); err == nil {
		t.Fatal("strict mode should reject bytes outside pchar/reserved/%")
	}
}

func TestParseURLStrictAcceptsPcharReservedAndEscape(t *testing.T) {
	h := NewHeaderHeap()
	raw := "http://user:pw@example.com:8080/a/b;p=1?q=2&r=3#frag%20ment"
	if _, err := ParseURL(h, []byte(raw), StrictnessStrict); err != nil {
		t.Fatalf("strict mode should accept pchar/reserved/%%-only input: %v", err)
	}
}

func TestURLPrintRoundTrip(t *testing.T) {
	h := NewHeaderHeap()
	raw := "https://example.com/a?b=1"
	u, err := ParseURL(h, []byte(raw), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(u.Print()); got != raw {
		t.Fatalf("Print() = %q, want %q", got, raw)
	}
}

func TestURLDigestFastAndGeneralPathsAgree(t *testing.T) {
	h := NewHeaderHeap()
	u, err := ParseURL(h, []byte("http://example.com/small/path"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}

	var buf [fastDigestBufSize]byte
	fastInput := u.writeDigestInput(buf[:0], 7)
	fast := sha256simd.Sum256(fastInput)

	hasher := sha256simd.New()
	u.streamDigestInput(hasher, 7)
	var general [32]byte
	copy(general[:], hasher.Sum(nil))

	if fast != general {
		t.Fatal("fast-path and general-path digest inputs must produce identical sums")
	}
}

func TestURLDigestDeterministic(t *testing.T) {
	h := NewHeaderHeap()
	u, err := ParseURL(h, []byte("http://example.com/small/path"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	if u.Digest(0) != u.Digest(0) {
		t.Fatal("digest must be deterministic for the same URL")
	}
}

func TestURLDigestChangesWithGeneration(t *testing.T) {
	h := NewHeaderHeap()
	u, err := ParseURL(h, []byte("http://example.com/a"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	d1 := u.Digest(1)
	d2 := u.Digest(2)
	if d1 == d2 {
		t.Fatal("digest should change when cache generation changes")
	}
}

func TestURLDigestNormalizesMixedCaseSchemeAndHost(t *testing.T) {
	h := NewHeaderHeap()
	canonical, err := ParseURL(h, []byte("http://example.com/abc"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	mixedCase, err := ParseURL(h, []byte("HTTP://EXAMPLE.COM/abc"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	if canonical.Digest(0) != mixedCase.Digest(0) {
		t.Fatal("a mixed-case scheme/host must map to the same cache key as its canonical form")
	}
}

func TestURLDigestNormalizesPercentEncoding(t *testing.T) {
	h := NewHeaderHeap()
	canonical, err := ParseURL(h, []byte("http://example.com/abc"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	percentEncoded, err := ParseURL(h, []byte("http://example.com/%61%62%63"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	if percentEncoded.digestFastPathApplies() {
		t.Fatal("a percent-encoded path should force the general digest path")
	}
	if canonical.Digest(0) != percentEncoded.Digest(0) {
		t.Fatal("a percent-encoded path must map to the same cache key as its decoded form")
	}
}

func TestURLDigestGeneralPathUnescapesUserAndQuery(t *testing.T) {
	h := NewHeaderHeap()
	canonical, err := ParseURL(h, []byte("http://bob@example.com/a?q=ab"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	escaped, err := ParseURL(h, []byte("http://%62ob@example.com/a?q=%61b"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	if canonical.Digest(0) != escaped.Digest(0) {
		t.Fatal("percent-encoding in user/query must normalize the same way as in host/path")
	}
}

func TestURLDigestNoCacheGenerationDisablesMixing(t *testing.T) {
	h := NewHeaderHeap()
	u, err := ParseURL(h, []byte("http://example.com/a"), StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	if u.Digest(NoCacheGeneration) != u.Digest(NoCacheGeneration) {
		t.Fatal("digest with mixing disabled must still be deterministic")
	}
	if u.Digest(NoCacheGeneration) == u.Digest(0) {
		t.Fatal("disabling generation mixing must differ from mixing in generation zero")
	}
}
