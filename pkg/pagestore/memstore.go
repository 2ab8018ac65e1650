package pagestore

import (
	"sync"

	"github.com/arcanedb/arcanedb/pkg/cache"
)

// MemStore is an in-memory cache.PageStore, used by Open for an in-memory
// DB and by tests that need a PageStore without a filesystem. It is not
// durable: contents vanish with the process, and after Close every
// operation returns ErrClosed.
type MemStore struct {
	mu     sync.Mutex
	closed bool
	base   map[string][]byte
	deltas map[string][][]byte
}

// NewMemStore returns an empty in-memory PageStore.
func NewMemStore() *MemStore {
	return &MemStore{
		base:   make(map[string][]byte),
		deltas: make(map[string][][]byte),
	}
}

// ReadPage returns the page's blocks head-first: newest delta first, base
// last. A page with neither a base nor any deltas is reported as absent.
func (s *MemStore) ReadPage(pageKey []byte) ([]cache.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	key := string(pageKey)

	deltas := s.deltas[key]
	base, hasBase := s.base[key]

	if !hasBase && len(deltas) == 0 {
		return nil, nil
	}

	blocks := make([]cache.Block, 0, len(deltas)+1)

	for i := len(deltas) - 1; i >= 0; i-- {
		blocks = append(blocks, cache.Block{Type: cache.BlockDelta, Bytes: deltas[i]})
	}

	if hasBase {
		blocks = append(blocks, cache.Block{Type: cache.BlockBase, Bytes: base})
	}

	return blocks, nil
}

// UpdateReplacement atomically replaces the page's base image, discarding
// any previously stored deltas.
func (s *MemStore) UpdateReplacement(pageKey []byte, bytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	key := string(pageKey)

	cp := make([]byte, len(bytes))
	copy(cp, bytes)

	s.base[key] = cp
	delete(s.deltas, key)

	return nil
}

// UpdateDelta appends an incremental delta for the page.
func (s *MemStore) UpdateDelta(pageKey []byte, bytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	key := string(pageKey)

	cp := make([]byte, len(bytes))
	copy(cp, bytes)

	s.deltas[key] = append(s.deltas[key], cp)

	return nil
}

// DeletePage removes the page's base and deltas entirely.
func (s *MemStore) DeletePage(pageKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	key := string(pageKey)
	delete(s.base, key)
	delete(s.deltas, key)

	return nil
}

// Close marks the store unusable. Safe to call more than once.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}
