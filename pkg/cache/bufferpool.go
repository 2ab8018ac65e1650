// Package cache implements the BufferPool: a sharded LRU over LeafPages
// with single-flight page loading and asynchronous dirty-page flushing
// (spec §4.4).
package cache

import (
	"container/list"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/arcanedb/arcanedb/pkg/page"
)

const defaultShardCount = 16

// Flusher is the collaborator dirty pages are handed to once a mutation
// marks them (spec §4.4 TryInsertDirtyPage/ForceFlushAllPages). Defined
// here, not imported from pkg/flusher, so BufferPool and Flusher don't
// depend on each other's packages — *flusher.Flusher satisfies this
// implicitly (spec §9's note on avoiding cyclic back-references).
type Flusher interface {
	// Enqueue hands a newly dirtied page to the flusher, hashed to one of
	// its shards by page key.
	Enqueue(pageKey []byte, p *page.LeafPage)
	// Drain blocks until every shard's queue is empty.
	Drain()
}

// Options configures a BufferPool.
type Options struct {
	// ShardCount is the number of independent LRU shards. Defaults to 16.
	ShardCount int
	// CapacityPerShard bounds the total charge held by each shard before
	// eviction kicks in.
	CapacityPerShard int64
	// Store is the persistence backend consulted on a cache miss.
	Store PageStore
	// Flusher receives pages marked dirty via TryInsertDirtyPage. May be
	// nil, in which case TryInsertDirtyPage/ForceFlushAllPages are no-ops
	// (useful for tests that only exercise the LRU/loading behavior).
	Flusher Flusher
}

// entry is one shard's LRU-list payload.
type entry struct {
	pageKey []byte
	page    *page.LeafPage
	charge  int64
	refs    int32 // cache-internal ref (1) plus one per outstanding PageHolder
}

type shard struct {
	mu       sync.Mutex
	index    map[string]*list.Element
	order    *list.List // MRU at Front, LRU at Back
	capacity int64
	charge   int64
}

// BufferPool is a sharded LRU over (page_key, ref-counted LeafPage, charge)
// (spec §4.4). Each shard owns an independent mutex, LRU list, and hash
// table; shards never hand-over-hand lock each other.
type BufferPool struct {
	shards  []*shard
	store   PageStore
	flusher Flusher

	loadingMu sync.Mutex
	loading   map[string]*loadCall
}

// loadCall is the in-flight state for a single-flighted page load: every
// concurrent GetPage for the same key waits on done instead of issuing its
// own PageStore.ReadPage (spec §4.4 single_flight.Do).
type loadCall struct {
	done   chan struct{}
	holder *PageHolder
	err    error
}

// New constructs a BufferPool. A zero Options.ShardCount defaults to 16; a
// zero CapacityPerShard means unbounded (no eviction).
func New(opts Options) *BufferPool {
	n := opts.ShardCount
	if n <= 0 {
		n = defaultShardCount
	}

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{
			index:    make(map[string]*list.Element),
			order:    list.New(),
			capacity: opts.CapacityPerShard,
		}
	}

	return &BufferPool{
		shards:  shards,
		store:   opts.Store,
		flusher: opts.Flusher,
		loading: make(map[string]*loadCall),
	}
}

// TryInsertDirtyPage sets the page's in-flusher flag exactly once per dirty
// epoch and enqueues it to the Flusher (spec §4.4).
func (c *BufferPool) TryInsertDirtyPage(h *PageHolder) {
	if c.flusher == nil {
		return
	}

	if h.Page.TryBeginFlush() {
		c.flusher.Enqueue(h.Page.PageKey(), h.Page)
	}
}

// ForceFlushAllPages drains every flusher shard to quiescence (spec §4.4).
func (c *BufferPool) ForceFlushAllPages() {
	if c.flusher != nil {
		c.flusher.Drain()
	}
}

func (c *BufferPool) shardFor(pageKey []byte) *shard {
	h := fnv.New32a()
	_, _ = h.Write(pageKey)

	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// PageHolder is a ref-counted handle keeping a LeafPage resident in the
// BufferPool for the holder's lifetime (spec §3 lifecycle, §4.4). Callers
// must call Release exactly once per holder obtained from GetPage.
type PageHolder struct {
	sh   *shard
	elem *list.Element
	Page *page.LeafPage
}

// Release drops this holder's reference. When the last reference drains
// and the shard is over capacity, the page becomes eligible for eviction
// on the next GetPage/insert in that shard.
func (h *PageHolder) Release() {
	h.sh.mu.Lock()
	defer h.sh.mu.Unlock()

	if e, ok := h.sh.index[string(h.Page.PageKey())]; ok && e == h.elem {
		e.Value.(*entry).refs--
	}
}

// GetPage returns a held handle to the page identified by pageKey,
// loading it from the Store on a miss (spec §4.4 GetPage).
func (c *BufferPool) GetPage(pageKey []byte) (*PageHolder, error) {
	sh := c.shardFor(pageKey)
	key := string(pageKey)

	sh.mu.Lock()
	if e, ok := sh.index[key]; ok {
		sh.order.MoveToFront(e)

		ent := e.Value.(*entry)
		ent.refs++
		sh.mu.Unlock()

		return &PageHolder{sh: sh, elem: e, Page: ent.page}, nil
	}
	sh.mu.Unlock()

	return c.loadSingleFlight(pageKey)
}

// loadSingleFlight guarantees at most one concurrent PageStore load per
// key: the first caller for a key performs the load and wakes every
// follower, which then takes its own holder on the loaded page (spec §4.4).
func (c *BufferPool) loadSingleFlight(pageKey []byte) (*PageHolder, error) {
	key := string(pageKey)

	c.loadingMu.Lock()
	if call, ok := c.loading[key]; ok {
		c.loadingMu.Unlock()
		<-call.done

		if call.err != nil {
			return nil, call.err
		}

		return c.GetPage(pageKey)
	}

	call := &loadCall{done: make(chan struct{})}
	c.loading[key] = call
	c.loadingMu.Unlock()

	call.holder, call.err = c.load(pageKey)

	c.loadingMu.Lock()
	delete(c.loading, key)
	c.loadingMu.Unlock()
	close(call.done)

	return call.holder, call.err
}

func (c *BufferPool) load(pageKey []byte) (*PageHolder, error) {
	p := page.NewLeafPage(pageKey)

	if c.store != nil {
		blocks, err := c.store.ReadPage(pageKey)
		if err != nil {
			return nil, fmt.Errorf("cache: loading page %x: %w", pageKey, err)
		}

		if len(blocks) > 0 {
			blobs := make([][]byte, len(blocks))
			for i, b := range blocks {
				blobs[i] = b.Bytes
			}

			head, err := page.BuildChainFromBlocks(blobs)
			if err != nil {
				return nil, fmt.Errorf("cache: deserializing page %x: %w", pageKey, err)
			}

			p.InstallChain(head, 0)
		}
	}

	return c.insert(pageKey, p, 1)
}

// insert registers a freshly loaded page with charge into its shard,
// running eviction if the shard is now over capacity (spec §4.4).
func (c *BufferPool) insert(pageKey []byte, p *page.LeafPage, charge int64) (*PageHolder, error) {
	sh := c.shardFor(pageKey)
	key := string(pageKey)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.index[key]; ok {
		ent := e.Value.(*entry)
		ent.refs++
		sh.order.MoveToFront(e)

		return &PageHolder{sh: sh, elem: e, Page: ent.page}, nil
	}

	ent := &entry{pageKey: pageKey, page: p, charge: charge, refs: 2} // 1 cache-internal + 1 for this holder
	e := sh.order.PushFront(ent)
	sh.index[key] = e
	sh.charge += charge

	sh.evictLocked()

	return &PageHolder{sh: sh, elem: e, Page: p}, nil
}

// evictLocked evicts LRU-tail entries with refs==1 (cache-internal only)
// while the shard is over capacity. Caller must hold sh.mu.
func (sh *shard) evictLocked() {
	if sh.capacity <= 0 {
		return
	}

	for sh.charge > sh.capacity {
		e := sh.order.Back()
		if e == nil {
			return
		}

		ent := e.Value.(*entry)
		if ent.refs > 1 || ent.page.Dirty() {
			// A held or dirty page cannot be evicted; walk backward past
			// it rather than stalling eviction entirely.
			found := false

			for cand := e.Prev(); cand != nil; cand = cand.Prev() {
				ce := cand.Value.(*entry)
				if ce.refs == 1 && !ce.page.Dirty() {
					e = cand
					ent = ce
					found = true

					break
				}
			}

			if !found {
				return
			}
		}

		sh.order.Remove(e)
		delete(sh.index, string(ent.pageKey))
		sh.charge -= ent.charge
	}
}
