package records

import (
	"os"
	"path/filepath"
	"testing"

	"hdrproxy/core"
)

func TestRecordsDefaults(t *testing.T) {
	r := New()
	snap := r.Current()
	if snap.StrictURIParsing != URIStrictnessOff {
		t.Fatalf("default StrictURIParsing = %d, want %d (off)", snap.StrictURIParsing, URIStrictnessOff)
	}
	if snap.MaxRequestHeaderSize != 64*1024 {
		t.Fatalf("default MaxRequestHeaderSize = %d", snap.MaxRequestHeaderSize)
	}
	if snap.URLHashMethod != HashSHA256 {
		t.Fatalf("default URLHashMethod = %q", snap.URLHashMethod)
	}
	if snap.CacheGeneration != core.NoCacheGeneration {
		t.Fatalf("default CacheGeneration = %d, want %d (mixing disabled)", snap.CacheGeneration, core.NoCacheGeneration)
	}
}

func TestRecordsLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "records.yaml")
	contents := "strict_uri_parsing: 2\nmax_request_header_size: 4096\ncache_generation: 7\n"
	if err := os.WriteFile(cfgPath, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	if err := r.Load("", cfgPath); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := r.Current()
	if snap.StrictURIParsing != URIStrictnessMostly {
		t.Fatalf("StrictURIParsing = %d, want %d (mostly)", snap.StrictURIParsing, URIStrictnessMostly)
	}
	if snap.MaxRequestHeaderSize != 4096 {
		t.Fatalf("MaxRequestHeaderSize = %d, want 4096", snap.MaxRequestHeaderSize)
	}
	if snap.CacheGeneration != 7 {
		t.Fatalf("CacheGeneration = %d, want 7", snap.CacheGeneration)
	}
}

func TestRecordsWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "records.yaml")
	if err := os.WriteFile(cfgPath, []byte("cache_generation: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New()
	if err := r.Load("", cfgPath); err != nil {
		t.Fatalf("Load: %v", err)
	}
	stop, err := r.Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if r.Current().CacheGeneration != 1 {
		t.Fatalf("CacheGeneration = %d, want 1", r.Current().CacheGeneration)
	}
	// This test only exercises Watch's setup/teardown path; asserting on
	// the debounced filesystem event itself would make it flaky under CI
	// load, so the reload logic is covered indirectly via reload()'s use
	// from Load in TestRecordsLoadFromYAML.
}
