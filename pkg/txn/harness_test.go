package txn_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/cache"
	"github.com/arcanedb/arcanedb/pkg/codec"
	"github.com/arcanedb/arcanedb/pkg/locktable"
	"github.com/arcanedb/arcanedb/pkg/row"
	"github.com/arcanedb/arcanedb/pkg/schema"
	"github.com/arcanedb/arcanedb/pkg/txnmgr"
	"github.com/arcanedb/arcanedb/pkg/wal"
)

// memStore is a minimal in-memory cache.PageStore, sufficient for tests
// that never exercise eviction-triggered reloads from disk.
type memStore struct {
	mu     sync.Mutex
	blocks map[string][]cache.Block
}

func newMemStore() *memStore { return &memStore{blocks: make(map[string][]cache.Block)} }

func (s *memStore) ReadPage(pageKey []byte) ([]cache.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.blocks[string(pageKey)], nil
}

func (s *memStore) UpdateReplacement(pageKey []byte, bytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[string(pageKey)] = []cache.Block{{Type: cache.BlockBase, Bytes: bytes}}

	return nil
}

func (s *memStore) UpdateDelta(pageKey []byte, bytes []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[string(pageKey)] = append([]cache.Block{{Type: cache.BlockDelta, Bytes: bytes}}, s.blocks[string(pageKey)]...)

	return nil
}

func (s *memStore) DeletePage(pageKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blocks, string(pageKey))

	return nil
}

type harness struct {
	pool  *cache.BufferPool
	locks *locktable.LockTable
	mgr   *txnmgr.TxnManager
	log   *wal.LogStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		pool:  cache.New(cache.Options{Store: newMemStore()}),
		locks: locktable.New(locktable.Options{}),
		mgr:   txnmgr.New(),
		log:   wal.New(wal.Options{}),
	}

	t.Cleanup(h.log.Close)

	return h
}

func idSchema(t *testing.T) *schema.Schema {
	t.Helper()

	sch, err := schema.New([]schema.Column{
		{Name: "id", Type: codec.KindInt64},
		{Name: "name", Type: codec.KindString},
	}, 1)
	require.NoError(t, err)

	return sch
}

func idRow(t *testing.T, sch *schema.Schema, id int64, name string) row.Row {
	t.Helper()

	r, err := row.Serialize([]codec.Value{codec.Int64(id), codec.String(name)}, sch)
	require.NoError(t, err)

	return r
}

func idSortKey(t *testing.T, id int64) []byte {
	t.Helper()

	r, err := row.SerializeSortKeyOnly([]codec.Value{codec.Int64(id)})
	require.NoError(t, err)

	return r.SortKeyBytes()
}
