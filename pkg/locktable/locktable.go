// Package locktable implements a sharded, per-row wait-queue lock map used
// to serialize concurrent writers to the same (page_key, sort_key) pair
// (spec §4.6).
package locktable

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Status is the outcome of Lock.
type Status uint8

const (
	// StatusOK means the caller now owns the lock.
	StatusOK Status = iota
	// StatusTimeout means kLockTimeoutUs elapsed before the lock was
	// granted. The caller must abort its transaction (spec §6).
	StatusTimeout
)

// DefaultLockTimeout is kLockTimeoutUs's default value.
const DefaultLockTimeout = 500 * time.Millisecond

const defaultShardCount = 32

// Options configures a LockTable.
type Options struct {
	// ShardCount is the number of independently-mutexed shards. Defaults
	// to 32.
	ShardCount int
	// Timeout is kLockTimeoutUs, shared by every acquirer. Defaults to
	// DefaultLockTimeout.
	Timeout time.Duration
}

type lockEntry struct {
	ownerTxn uint64
	refCount int
	locked   bool
	cond     *sync.Cond
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// LockTable is a sharded hash map from composite lock key to LockEntry
// (spec §4.6). There is no deadlock detection: every acquirer is subject to
// the same timeout, and a stuck acquirer simply times out and aborts.
type LockTable struct {
	shards  []*shard
	timeout time.Duration
}

// New constructs a LockTable.
func New(opts Options) *LockTable {
	n := opts.ShardCount
	if n <= 0 {
		n = defaultShardCount
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*lockEntry)}
	}

	return &LockTable{shards: shards, timeout: timeout}
}

// Key builds the composite lock key page_key + "#" + sort_key_bytes
// (spec §4.6).
func Key(pageKey, sortKey []byte) string {
	buf := make([]byte, 0, len(pageKey)+1+len(sortKey))
	buf = append(buf, pageKey...)
	buf = append(buf, '#')
	buf = append(buf, sortKey...)

	return string(buf)
}

func (t *LockTable) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// Lock acquires the lock identified by key for txn, blocking up to the
// table's configured timeout if it is held by another transaction
// (spec §4.6). Re-entrant: a txn already holding the lock gets StatusOK
// immediately.
func (t *LockTable) Lock(key string, txn uint64) Status {
	sh := t.shardFor(key)

	sh.mu.Lock()

	e, ok := sh.entries[key]
	if !ok {
		sh.entries[key] = &lockEntry{ownerTxn: txn, locked: true, cond: sync.NewCond(&sh.mu)}
		sh.mu.Unlock()

		return StatusOK
	}

	if e.locked && e.ownerTxn == txn {
		sh.mu.Unlock()

		return StatusOK
	}

	e.refCount++
	deadline := time.Now().Add(t.timeout)

	for e.locked && e.ownerTxn != txn {
		if !waitUntil(e.cond, deadline) {
			e.refCount--
			if e.refCount == 0 && !e.locked {
				delete(sh.entries, key)
			}

			sh.mu.Unlock()

			return StatusTimeout
		}
	}

	e.locked = true
	e.ownerTxn = txn
	e.refCount--

	sh.mu.Unlock()

	return StatusOK
}

// Unlock releases txn's hold on key. If no one is waiting the entry is
// removed entirely; otherwise the lock is cleared and one waiter is woken
// to race for ownership (spec §4.6). Unlock by a non-owner is a programming
// error and panics, mirroring the spec's "asserts owner==txn".
func (t *LockTable) Unlock(key string, txn uint64) {
	sh := t.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || !e.locked || e.ownerTxn != txn {
		panic(fmt.Sprintf("locktable: Unlock called by non-owner txn %d for key %q", txn, key))
	}

	if e.refCount == 0 {
		delete(sh.entries, key)

		return
	}

	e.locked = false
	e.cond.Signal()
}

// waitUntil blocks on c.Wait (the caller must hold c.L) until either
// another goroutine signals/broadcasts it or deadline passes, returning
// false in the latter case. A per-call timer drives the deadline since
// sync.Cond has no native timed wait; it is stopped as soon as a real wake
// arrives. Safe with multiple goroutines sharing one Cond: each carries its
// own timer and only treats the wake as "it was my timeout" if its own
// timer actually fired, so a sibling's timeout broadcast just sends this
// goroutine back around its caller's for-loop to recheck the condition.
func waitUntil(c *sync.Cond, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}

	fired := make(chan struct{})
	timer := time.AfterFunc(remaining, func() {
		c.L.Lock()
		close(fired)
		c.Broadcast()
		c.L.Unlock()
	})
	defer timer.Stop()

	c.Wait()

	select {
	case <-fired:
		return false
	default:
		return true
	}
}
