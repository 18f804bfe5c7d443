package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// entry is one cached marshaled header-heap image plus its own reference
// count, so a concurrent reader holding a slice into Bytes is never
// handed a buffer the store is about to recycle.
type entry struct {
	id       uuid.UUID
	bytes    []byte
	mu       sync.Mutex
	refcount int
}

// Store is an LRU-bounded map from ObjectKey to marshaled image. It never
// interprets the bytes it holds — Unmarshal/Marshal stay the caller's
// concern — so it can cache both full messages and cache-alternate
// descriptors (see alternate.go) uniformly.
type Store struct {
	lru    *lru.Cache[string, *entry]
	log    *zap.Logger
	hits   int64
	misses int64
	mu     sync.Mutex
}

// NewStore builds an LRU-bounded store holding at most capacity entries.
func NewStore(capacity int, log *zap.Logger) (*Store, error) {
	if log == nil {
		var err error
		log, err = zap.NewProduction()
		if err != nil {
			return nil, err
		}
	}
	c, err := lru.NewWithEvict[string, *entry](capacity, func(key string, e *entry) {
		log.Debug("cache evicted entry", zap.String("key", key), zap.String("id", e.id.String()))
	})
	if err != nil {
		return nil, fmt.Errorf("cache: build LRU: %w", err)
	}
	return &Store{lru: c, log: log}, nil
}

// Put stores a marshaled image under key, replacing any prior entry.
func (s *Store) Put(key ObjectKey, image []byte) {
	e := &entry{id: uuid.New(), bytes: image, refcount: 1}
	s.lru.Add(string(key.Bytes()), e)
	s.log.Debug("cache put", zap.String("key", key.String()), zap.Int("bytes", len(image)))
}

// Get returns the marshaled image for key, or (nil, false) on a miss.
// Counters are kept under a private mutex since golang-lru's own locking
// does not extend to caller-level hit/miss accounting.
func (s *Store) Get(key ObjectKey) ([]byte, bool) {
	e, ok := s.lru.Get(string(key.Bytes()))
	s.mu.Lock()
	if ok {
		s.hits++
	} else {
		s.misses++
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.bytes, true
}

// Remove evicts key if present.
func (s *Store) Remove(key ObjectKey) {
	s.lru.Remove(string(key.Bytes()))
}

// Retain increments the refcount of key's entry and reports whether key
// is present; Release decrements it. Eviction and Remove do not consult
// the count.
func (s *Store) Retain(key ObjectKey) bool {
	e, ok := s.lru.Peek(string(key.Bytes()))
	if !ok {
		return false
	}
	e.mu.Lock()
	e.refcount++
	e.mu.Unlock()
	return true
}

func (s *Store) Release(key ObjectKey) {
	e, ok := s.lru.Peek(string(key.Bytes()))
	if !ok {
		return
	}
	e.mu.Lock()
	if e.refcount > 0 {
		e.refcount--
	}
	e.mu.Unlock()
}

// Len returns the current number of cached entries.
func (s *Store) Len() int { return s.lru.Len() }

// Stats returns cumulative hit/miss counts.
func (s *Store) Stats() (hits, misses int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}
