// Package cache stores marshaled header-heap images behind an LRU,
// addressed by a content-derived key, with a bounded-concurrency warm-up
// path for populating it from disk at startup.
package cache

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	"hdrproxy/core"
)

// ObjectKey is a cache-alternate's address: a CIDv1 wrapping a SHA-256
// multihash of the URL cache-key digest this alternate answers for. Using
// go-cid instead of a bare [32]byte gives the key a self-describing,
// multibase-printable form for logs and debug endpoints, the same role it
// plays in an IPFS-style content store.
type ObjectKey struct {
	cid cid.Cid
}

// rawCodec is the multicodec tag for "raw bytes", used because a cache
// key is a digest, not a structured IPLD object.
const rawCodec = 0x55

// NewObjectKey wraps a 32-byte SHA-256 digest (see URLObj.Digest) as a
// content identifier.
func NewObjectKey(digest [32]byte) (ObjectKey, error) {
	mh, err := multihash.Encode(digest[:], multihash.SHA2_256)
	if err != nil {
		return ObjectKey{}, err
	}
	return ObjectKey{cid: cid.NewCidV1(rawCodec, mh)}, nil
}

// String renders the key in base32 multibase form, matching the CLI and
// log output's need for a stable, copy-pasteable identifier.
func (k ObjectKey) String() string {
	s, err := k.cid.StringOfBase(multibase.Base32)
	if err != nil {
		return k.cid.String()
	}
	return s
}

// Bytes returns the raw CID bytes, suitable as an LRU map key via string
// conversion.
func (k ObjectKey) Bytes() []byte { return k.cid.Bytes() }

// KeyForURL computes the ObjectKey a request's URL maps to, mixing in
// generation (records.Snapshot.CacheGeneration; core.NoCacheGeneration
// disables mixing) the same way every alternate for that URL must, so a
// reload that bumps the generation invalidates prior entries without an
// explicit purge.
func KeyForURL(u *core.URLObj, generation int64) (ObjectKey, error) {
	return NewObjectKey(u.Digest(generation))
}

// ParseObjectKey parses a previously rendered key string back into an
// ObjectKey (used by cmd/hdrctl's cache inspection subcommand).
func ParseObjectKey(s string) (ObjectKey, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return ObjectKey{}, err
	}
	return ObjectKey{cid: c}, nil
}

// ParseObjectKeyBytes decodes the raw CID bytes produced by ObjectKey.Bytes
// (used when an alternate image carries its key inline rather than as a
// printable string).
func ParseObjectKeyBytes(b []byte) (ObjectKey, error) {
	c, err := cid.Cast(b)
	if err != nil {
		return ObjectKey{}, err
	}
	return ObjectKey{cid: c}, nil
}
