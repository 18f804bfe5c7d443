package cache

import (
	"testing"

	"hdrproxy/core"
)

func parseTestURL(t *testing.T, raw string) *core.URLObj {
	t.Helper()
	h := core.NewHeaderHeap()
	u, err := core.ParseURL(h, []byte(raw), core.StrictnessOff)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestKeyForURLDeterministic(t *testing.T) {
	u := parseTestURL(t, "http://example.com/widgets")
	k1, err := KeyForURL(u, core.NoCacheGeneration)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := KeyForURL(u, core.NoCacheGeneration)
	if err != nil {
		t.Fatal(err)
	}
	if k1.String() != k2.String() {
		t.Fatal("KeyForURL must be deterministic for the same URL and generation")
	}
}

func TestKeyForURLChangesWithGeneration(t *testing.T) {
	u := parseTestURL(t, "http://example.com/widgets")
	k1, err := KeyForURL(u, 1)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := KeyForURL(u, 2)
	if err != nil {
		t.Fatal(err)
	}
	if k1.String() == k2.String() {
		t.Fatal("KeyForURL must change when the cache generation changes")
	}
}
