package cache_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/cache"
	"github.com/arcanedb/arcanedb/pkg/codec"
	"github.com/arcanedb/arcanedb/pkg/page"
	"github.com/arcanedb/arcanedb/pkg/row"
	"github.com/arcanedb/arcanedb/pkg/schema"
)

type memStore struct {
	mu     sync.Mutex
	blocks map[string][]cache.Block
}

func newMemStore() *memStore { return &memStore{blocks: map[string][]cache.Block{}} }

func (m *memStore) ReadPage(pageKey []byte) ([]cache.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blocks[string(pageKey)], nil
}

func (m *memStore) UpdateReplacement(pageKey []byte, bytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[string(pageKey)] = []cache.Block{{Type: cache.BlockBase, Bytes: append([]byte(nil), bytes...)}}

	return nil
}

func (m *memStore) UpdateDelta(pageKey []byte, bytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := append([]cache.Block(nil), m.blocks[string(pageKey)]...)
	m.blocks[string(pageKey)] = append([]cache.Block{{Type: cache.BlockDelta, Bytes: append([]byte(nil), bytes...)}}, existing...)

	return nil
}

func (m *memStore) DeletePage(pageKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blocks, string(pageKey))

	return nil
}

func idRowSchema(t *testing.T) *schema.Schema {
	t.Helper()

	sch, err := schema.New([]schema.Column{{Name: "id", Type: codec.KindInt64}}, 1)
	require.NoError(t, err)

	return sch
}

func idRow(t *testing.T, id int64) row.Row {
	t.Helper()

	r, err := row.Serialize([]codec.Value{codec.Int64(id)}, idRowSchema(t))
	require.NoError(t, err)

	return r
}

func Test_GetPage_ReturnsEmptyPage_When_StoreHasNoBlocksForKey(t *testing.T) {
	t.Parallel()

	pool := cache.New(cache.Options{Store: newMemStore()})

	h, err := pool.GetPage([]byte("p1"))
	require.NoError(t, err)
	defer h.Release()

	result, _ := h.Page.GetRow([]byte("sk"), page.MaxTxnTs(), page.ReadOpts{})
	require.Equal(t, page.ReadNotFound, result)
}

func Test_GetPage_ReturnsSameInstance_When_CalledTwiceForSameKey(t *testing.T) {
	t.Parallel()

	pool := cache.New(cache.Options{Store: newMemStore()})

	h1, err := pool.GetPage([]byte("p1"))
	require.NoError(t, err)
	defer h1.Release()

	h2, err := pool.GetPage([]byte("p1"))
	require.NoError(t, err)
	defer h2.Release()

	require.Same(t, h1.Page, h2.Page)
}

func Test_GetPage_ReconstructsPage_When_StoreHasAPersistedSnapshot(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	pool := cache.New(cache.Options{Store: store})

	h, err := pool.GetPage([]byte("p1"))
	require.NoError(t, err)

	r := idRow(t, 1)
	h.Page.SetRow(r, 10, 1, page.WriteOpts{})

	snap := h.Page.GetPageSnapshot()
	require.NoError(t, store.UpdateReplacement([]byte("p1"), snap.Serialize()))
	h.Release()

	fresh := cache.New(cache.Options{Store: store})

	h2, err := fresh.GetPage([]byte("p1"))
	require.NoError(t, err)
	defer h2.Release()

	result, got := h2.Page.GetRow(r.SortKeyBytes(), page.MaxTxnTs(), page.ReadOpts{})
	require.Equal(t, page.ReadFound, result)
	require.Equal(t, r, got)
}

func Test_GetPage_SingleFlights_When_CalledConcurrentlyForSameKey(t *testing.T) {
	t.Parallel()

	pool := cache.New(cache.Options{Store: newMemStore()})

	var wg sync.WaitGroup

	pages := make([]*page.LeafPage, 50)

	for i := range pages {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			h, err := pool.GetPage([]byte("shared"))
			require.NoError(t, err)

			pages[i] = h.Page
		}(i)
	}

	wg.Wait()

	for i := 1; i < len(pages); i++ {
		require.Same(t, pages[0], pages[i])
	}
}

func Test_GetPage_EvictsLRUTail_When_ShardOverCapacityAndRefsAreDrained(t *testing.T) {
	t.Parallel()

	pool := cache.New(cache.Options{ShardCount: 1, CapacityPerShard: 2, Store: newMemStore()})

	h1, err := pool.GetPage([]byte("a"))
	require.NoError(t, err)
	h1.Release()

	h2, err := pool.GetPage([]byte("b"))
	require.NoError(t, err)
	h2.Release()

	// Over capacity now (3 pages at capacity 2); "a" is LRU tail with
	// refs==1 (cache-internal only) and should be evicted.
	h3, err := pool.GetPage([]byte("c"))
	require.NoError(t, err)
	h3.Release()

	h1b, err := pool.GetPage([]byte("a"))
	require.NoError(t, err)
	defer h1b.Release()

	require.NotSame(t, h1.Page, h1b.Page, "evicted page must be reloaded as a fresh instance")
}

func Test_GetPage_DoesNotEvict_When_HolderIsStillHeld(t *testing.T) {
	t.Parallel()

	pool := cache.New(cache.Options{ShardCount: 1, CapacityPerShard: 1, Store: newMemStore()})

	h1, err := pool.GetPage([]byte("a"))
	require.NoError(t, err)
	defer h1.Release()

	h2, err := pool.GetPage([]byte("b"))
	require.NoError(t, err)
	defer h2.Release()

	h1b, err := pool.GetPage([]byte("a"))
	require.NoError(t, err)
	defer h1b.Release()

	require.Same(t, h1.Page, h1b.Page, "a held page must survive an over-capacity insert")
}
