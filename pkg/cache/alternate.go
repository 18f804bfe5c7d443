package cache

import (
	"encoding/binary"
	"fmt"

	"hdrproxy/core"
)

// Alternate is a cache-alternate descriptor: the request and response
// header-heap images that together answer one URL cache key, plus the
// bookkeeping spec.md §4.7 names for the descriptor (object key, size
// array, request/response timestamps, an optional fragment-offset tail).
// Multiple alternates can share a key when content negotiation (Vary)
// applies; this subsystem stores exactly one per ObjectKey and leaves
// alternate selection to the caller.
type Alternate struct {
	// Key is the CID this alternate is addressed by (see objectkey.go).
	// It is carried inside the image too, not just as the store's map
	// key, so a warmed-from-disk image is self-identifying.
	Key ObjectKey
	// Generation is the records cache_generation this alternate was
	// produced under (core.NoCacheGeneration if mixing was disabled at
	// the time), matching the salt core.URLObj.Digest folds into the key
	// this alternate is stored under.
	Generation int64
	// RequestTime and ResponseTime are Unix seconds marking when each
	// side of the alternate was captured, mirroring the descriptor's
	// request/response timestamp pair.
	RequestTime  int64
	ResponseTime int64
	Request      []byte // marshaled request header-heap image
	Response     []byte // marshaled response header-heap image
	// FragmentOffsets is the optional out-of-line fragment-offset tail
	// spec.md §4.7 describes for alternates whose body is stored in
	// fragments beyond an inline threshold; empty when the alternate has
	// no fragments of its own (the common case for this subsystem, which
	// only marshals headers).
	FragmentOffsets []int64
}

const alternateMagic = 0x61746c74 // "atlt" in big-endian ASCII

// alternateHeaderLen is the fixed portion of the descriptor, before the
// variable-length object-key bytes and fragment-offset tail:
// magic(4) + generation(8) + keyLen(4) + reqLen(4) + respLen(4) +
// requestTime(8) + responseTime(8) + fragCount(4).
const alternateHeaderLen = 4 + 8 + 4 + 4 + 4 + 8 + 8 + 4

// MarshalAlternate concatenates the descriptor with the two
// already-marshaled heap images, so the pair round-trips as a single
// cache value.
func MarshalAlternate(a Alternate) []byte {
	keyBytes := a.Key.Bytes()
	out := make([]byte, 0, alternateHeaderLen+len(keyBytes)+8*len(a.FragmentOffsets)+len(a.Request)+len(a.Response))
	var hdr [alternateHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], alternateMagic)
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(a.Generation))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(keyBytes)))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(a.Request)))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(a.Response)))
	binary.LittleEndian.PutUint64(hdr[24:32], uint64(a.RequestTime))
	binary.LittleEndian.PutUint64(hdr[32:40], uint64(a.ResponseTime))
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(a.FragmentOffsets)))
	out = append(out, hdr[:]...)
	out = append(out, keyBytes...)
	for _, off := range a.FragmentOffsets {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(off))
		out = append(out, b[:]...)
	}
	out = append(out, a.Request...)
	out = append(out, a.Response...)
	return out
}

// UnmarshalAlternate parses an image produced by MarshalAlternate.
func UnmarshalAlternate(buf []byte) (Alternate, error) {
	if len(buf) < alternateHeaderLen {
		return Alternate{}, fmt.Errorf("cache: alternate image too short")
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != alternateMagic {
		return Alternate{}, fmt.Errorf("cache: bad alternate magic")
	}
	gen := int64(binary.LittleEndian.Uint64(buf[4:12]))
	keyLen := binary.LittleEndian.Uint32(buf[12:16])
	reqLen := binary.LittleEndian.Uint32(buf[16:20])
	respLen := binary.LittleEndian.Uint32(buf[20:24])
	reqTime := int64(binary.LittleEndian.Uint64(buf[24:32]))
	respTime := int64(binary.LittleEndian.Uint64(buf[32:40]))
	fragCount := binary.LittleEndian.Uint32(buf[40:44])

	off := alternateHeaderLen
	want := off + int(keyLen) + 8*int(fragCount) + int(reqLen) + int(respLen)
	if len(buf) < want {
		return Alternate{}, fmt.Errorf("cache: alternate image truncated: have %d, want %d", len(buf), want)
	}

	var key ObjectKey
	if keyLen > 0 {
		var err error
		key, err = ParseObjectKeyBytes(buf[off : off+int(keyLen)])
		if err != nil {
			return Alternate{}, fmt.Errorf("cache: decode alternate object key: %w", err)
		}
	}
	off += int(keyLen)

	var frags []int64
	if fragCount > 0 {
		frags = make([]int64, fragCount)
		for i := range frags {
			frags[i] = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
			off += 8
		}
	}

	req := append([]byte(nil), buf[off:off+int(reqLen)]...)
	off += int(reqLen)
	resp := append([]byte(nil), buf[off:off+int(respLen)]...)

	return Alternate{
		Key:             key,
		Generation:      gen,
		RequestTime:     reqTime,
		ResponseTime:    respTime,
		Request:         req,
		Response:        resp,
		FragmentOffsets: frags,
	}, nil
}

// LoadAlternateHeaps unmarshals both header-heap images inside a, for a
// caller that wants live core.HeaderHeap objects rather than raw bytes.
func LoadAlternateHeaps(a Alternate) (request, response *core.HeaderHeap, err error) {
	if len(a.Request) > 0 {
		request, err = core.Unmarshal(a.Request)
		if err != nil {
			return nil, nil, fmt.Errorf("cache: unmarshal alternate request: %w", err)
		}
	}
	if len(a.Response) > 0 {
		response, err = core.Unmarshal(a.Response)
		if err != nil {
			return nil, nil, fmt.Errorf("cache: unmarshal alternate response: %w", err)
		}
	}
	return request, response, nil
}
