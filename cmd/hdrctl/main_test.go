package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"hdrproxy/core"
	"hdrproxy/internal/records"
	"hdrproxy/pkg/cache"
)

func init() {
	core.InitTokenTable()
}

func TestParseCmdPrintsRequestSummary(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"parse", "--file", "-"})
	in := strings.NewReader("GET /widgets HTTP/1.1\r\nHost: example.com\r\n\r\n")
	root.SetIn(in)
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(out.String(), "method=GET") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRoundtripCmdReportsSuccess(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"roundtrip", "--file", "-"})
	in := strings.NewReader("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	root.SetIn(in)
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if !strings.Contains(out.String(), "ok:") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestCacheKeyCmdPrintsObjectKey(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"cache", "key", "http://example.com/widgets"})
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		t.Fatal("expected a non-empty object key")
	}
}

func TestCacheKeyCmdDeterministic(t *testing.T) {
	run := func() string {
		root := newRootCmd()
		root.SetArgs([]string{"cache", "key", "http://example.com/widgets"})
		var out bytes.Buffer
		root.SetOut(&out)
		if err := root.Execute(); err != nil {
			t.Fatalf("cache key: %v", err)
		}
		return out.String()
	}
	if run() != run() {
		t.Fatal("cache key for the same URL should be deterministic")
	}
}

func TestStrictnessFromFlagExplicitOverridesRecords(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "records.yaml")
	if err := os.WriteFile(cfgPath, []byte("strict_uri_parsing: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := records.New()
	if err := rec.Load("", cfgPath); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cases := map[string]core.URLStrictness{
		"off":    core.StrictnessOff,
		"mostly": core.StrictnessMostly,
		"strict": core.StrictnessStrict,
	}
	for flag, want := range cases {
		if got := strictnessFromFlag(flag, rec); got != want {
			t.Errorf("strictnessFromFlag(%q) = %v, want %v", flag, got, want)
		}
	}
	if got := strictnessFromFlag("", nil); got != core.StrictnessOff {
		t.Errorf("strictnessFromFlag(\"\", nil) = %v, want StrictnessOff", got)
	}
}

// TestStrictnessFromRecordsModeCoversAllThreeValues guards against the
// records collaborator's 0/1/2 encoding collapsing to a boolean again:
// "mostly" (2) must map to core.StrictnessMostly, distinct from both off
// and strict.
func TestStrictnessFromRecordsModeCoversAllThreeValues(t *testing.T) {
	cases := map[records.URIStrictnessMode]core.URLStrictness{
		records.URIStrictnessOff:    core.StrictnessOff,
		records.URIStrictnessStrict: core.StrictnessStrict,
		records.URIStrictnessMostly: core.StrictnessMostly,
	}
	for mode, want := range cases {
		if got := strictnessFromRecordsMode(mode); got != want {
			t.Errorf("strictnessFromRecordsMode(%d) = %v, want %v", mode, got, want)
		}
	}
}

func newTestServerForRoutes(t *testing.T) *server {
	t.Helper()
	store, err := cache.NewStore(8, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &server{
		store:   store,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     logrus.New(),
	}
}

func TestServeHealthz(t *testing.T) {
	srv := newTestServerForRoutes(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestServeParseEndpoint(t *testing.T) {
	srv := newTestServerForRoutes(t)
	body := strings.NewReader("GET /x HTTP/1.1\r\nHost: example.com\r\n\r\n")
	req := httptest.NewRequest(http.MethodPost, "/parse", body)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"method":"GET"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestServeParseEndpointRejectsMalformed(t *testing.T) {
	srv := newTestServerForRoutes(t)
	body := strings.NewReader("not a request line\r\n\r\n")
	req := httptest.NewRequest(http.MethodPost, "/parse", body)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestServeCacheEndpoints(t *testing.T) {
	srv := newTestServerForRoutes(t)

	var digest [32]byte
	digest[0] = 7
	key, err := cache.NewObjectKey(digest)
	if err != nil {
		t.Fatal(err)
	}
	srv.store.Put(key, []byte("payload"))

	req := httptest.NewRequest(http.MethodGet, "/cache/"+key.String(), nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "payload" {
		t.Fatalf("cache get: code=%d body=%q", rr.Code, rr.Body.String())
	}

	statsReq := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	statsRR := httptest.NewRecorder()
	srv.routes().ServeHTTP(statsRR, statsReq)
	if statsRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", statsRR.Code)
	}
}

func TestServeCacheMissReturnsNotFound(t *testing.T) {
	srv := newTestServerForRoutes(t)
	var digest [32]byte
	digest[0] = 99
	key, err := cache.NewObjectKey(digest)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/cache/"+key.String(), nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRateLimitMiddlewareRejectsOverLimit(t *testing.T) {
	srv := newTestServerForRoutes(t)
	srv.limiter = rate.NewLimiter(0, 0)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}
