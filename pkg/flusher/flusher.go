// Package flusher implements a fixed-shard asynchronous flush pool: dirty
// LeafPages are popped from a shard's deque, snapshotted, and persisted to
// a PageStore only once the WAL has durably recorded their LSN (spec §4.5).
package flusher

import (
	"hash/fnv"
	"runtime"
	"sync"

	"github.com/arcanedb/arcanedb/pkg/page"
)

// PersistentLSNSource reports the greatest contiguous LSN the log has
// confirmed durable (spec §4.7 GetPersistentLsn). The flusher blocks a
// page's persist step until this reaches the page's snapshot LSN, per the
// WAL rule in spec §5.
type PersistentLSNSource interface {
	GetPersistentLsn() uint64
}

// ReplacementStore is the narrow slice of PageStore the flusher needs: an
// atomic base-page replace (spec §4.9 UpdateReplacement).
type ReplacementStore interface {
	UpdateReplacement(pageKey []byte, bytes []byte) error
}

const defaultShardCount = 8

// Flusher is a fixed number of shards, each owning a deque guarded by a
// mutex+condvar and a single worker goroutine (spec §4.5 LoopWork).
type Flusher struct {
	shards []*flushShard
	store  ReplacementStore
	lsn    PersistentLSNSource
	wg     sync.WaitGroup
}

type job struct {
	pageKey []byte
	p       *page.LeafPage
}

type flushShard struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []job
	inFlight int
	stopped  bool
}

// New starts a Flusher with shardCount workers (defaults to 8). store
// persists flushed pages; lsn reports the WAL's durability horizon.
func New(shardCount int, store ReplacementStore, lsn PersistentLSNSource) *Flusher {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}

	f := &Flusher{
		shards: make([]*flushShard, shardCount),
		store:  store,
		lsn:    lsn,
	}

	for i := range f.shards {
		sh := &flushShard{}
		sh.cond = sync.NewCond(&sh.mu)
		f.shards[i] = sh

		f.wg.Add(1)

		go f.loopWork(sh)
	}

	return f
}

func (f *Flusher) shardFor(pageKey []byte) *flushShard {
	h := fnv.New32a()
	_, _ = h.Write(pageKey)

	return f.shards[h.Sum32()%uint32(len(f.shards))]
}

// Enqueue hands a newly dirtied page to its shard's deque (spec §4.4
// TryInsertDirtyPage, §4.5).
func (f *Flusher) Enqueue(pageKey []byte, p *page.LeafPage) {
	sh := f.shardFor(pageKey)

	sh.mu.Lock()
	sh.queue = append(sh.queue, job{pageKey: pageKey, p: p})
	sh.cond.Signal()
	sh.mu.Unlock()
}

// Drain blocks until every shard has no queued or in-flight work (spec
// §4.4 ForceFlushAllPages). It does not stop the workers.
func (f *Flusher) Drain() {
	for _, sh := range f.shards {
		sh.mu.Lock()
		for len(sh.queue) > 0 || sh.inFlight > 0 {
			sh.cond.Wait()
		}
		sh.mu.Unlock()
	}
}

// Stop requests cooperative shutdown: sets each shard's stop flag,
// notifies every waiting condvar, and joins the workers (spec §4.5
// "Shutdown is cooperative").
func (f *Flusher) Stop() {
	for _, sh := range f.shards {
		sh.mu.Lock()
		sh.stopped = true
		sh.cond.Broadcast()
		sh.mu.Unlock()
	}

	f.wg.Wait()
}

// loopWork pops a dirty page, snapshots it, waits for WAL persistence of
// its LSN, persists it, and clears the dirty bit; a page re-dirtied during
// the flush is re-enqueued (spec §4.5).
func (f *Flusher) loopWork(sh *flushShard) {
	defer f.wg.Done()

	for {
		sh.mu.Lock()

		for len(sh.queue) == 0 && !sh.stopped {
			sh.cond.Wait()
		}

		if len(sh.queue) == 0 && sh.stopped {
			sh.mu.Unlock()

			return
		}

		j := sh.queue[0]
		sh.queue = sh.queue[1:]
		sh.inFlight++

		sh.mu.Unlock()

		f.flushOne(j)

		sh.mu.Lock()
		sh.inFlight--
		if len(sh.queue) == 0 && sh.inFlight == 0 {
			sh.cond.Broadcast() // wake Drain waiters
		}
		sh.mu.Unlock()
	}
}

func (f *Flusher) flushOne(j job) {
	snap := j.p.GetPageSnapshot()

	if f.lsn != nil {
		// Bounded spin+yield, per spec §5's enumerated suspension points;
		// the WAL's own IO worker drives persistent_lsn forward
		// independently of this goroutine.
		for f.lsn.GetPersistentLsn() < snap.LSN {
			runtime.Gosched()
		}
	}

	if f.store != nil {
		_ = f.store.UpdateReplacement(j.pageKey, snap.Serialize())
	}

	j.p.MarkClean(snap.LSN)
	j.p.EndFlush()

	if j.p.Dirty() {
		f.Enqueue(j.pageKey, j.p)
	}
}
