package page

import (
	"sync"
	"sync/atomic"

	"github.com/arcanedb/arcanedb/pkg/row"
)

// DefaultChainLength is kBwTreeDeltaChainLength: the chain depth above
// which a mutation triggers compaction (spec §4.3).
const DefaultChainLength = 8

// ReadResult is the outcome of LeafPage.GetRow.
type ReadResult uint8

const (
	// ReadNotFound means the sort-key has no version anywhere in the chain.
	ReadNotFound ReadResult = iota
	// ReadFound means a visible row was located.
	ReadFound
	// ReadDeleted means the first visible version is a tombstone.
	ReadDeleted
	// ReadConflict means a locked intent owned by another txn is visible
	// and opts.CheckLock requested fail-fast behavior (spec §4.3).
	ReadConflict
)

// WriteOpts are the mutation-time options accepted by SetRow/DeleteRow/SetTs.
type WriteOpts struct {
	// ForceCompaction collapses the chain into one DeltaNode after this
	// mutation, regardless of chain depth.
	ForceCompaction bool
}

// ReadOpts are the options accepted by GetRow (spec §4.3, §6).
type ReadOpts struct {
	// OwnerTs identifies the calling transaction's read_ts. A locked
	// intent whose underlying ts equals OwnerTs is the caller's own write
	// and is always visible, regardless of CheckLock/IgnoreLock.
	OwnerTs TxnTs
	// IgnoreLock lets the read fall through locked intents without a
	// conflict signal. Only legal for read-only txns with a granted
	// snapshot ts (enforced by callers, not by LeafPage).
	IgnoreLock bool
	// CheckLock makes a visible locked intent (not owned by OwnerTs) fail
	// fast with ReadConflict instead of silently falling through to the
	// previous version.
	CheckLock bool
	// SkipOwnerIntent makes an otherwise-matching OwnerTs intent
	// transparent: the read falls through to the next older version
	// instead of returning the intent itself. OCC's commit-time read-set
	// validation uses this to see the version its own not-yet-committed
	// intent shadows, so a concurrent committed write sandwiched between
	// the original read and the intent's publication is still detected
	// (spec §4.8 step 3).
	SkipOwnerIntent bool
}

// LeafPage is the bw-tree leaf: a page-key-identified, MVCC-over-delta-chain
// structure with a single writer and lock-free readers (spec §3, §4.3).
type LeafPage struct {
	pageKey []byte

	// head is the current DeltaNode chain pointer. Readers load it without
	// ever taking writeMu; writers publish new heads with atomic stores
	// under writeMu ("prepend then swap"). A *DeltaNode is immutable after
	// publication, so a loaded pointer is a safe, kept-alive snapshot for
	// the duration of the reader's operation (spec §3 lifecycle notes).
	head atomic.Pointer[DeltaNode]

	writeMu sync.Mutex

	chainLimit int // kBwTreeDeltaChainLength

	lastFlushedLSN atomic.Uint64
	currentLSN     atomic.Uint64
	dirty          atomic.Bool
	inFlusher      atomic.Bool
}

// NewLeafPage constructs an empty LeafPage identified by pageKey.
func NewLeafPage(pageKey []byte) *LeafPage {
	return &LeafPage{pageKey: append([]byte(nil), pageKey...), chainLimit: DefaultChainLength}
}

// PageKey returns the page's identifying byte-string key.
func (p *LeafPage) PageKey() []byte { return p.pageKey }

// SetChainLimit overrides kBwTreeDeltaChainLength for this page (tests and
// callers wanting a non-default compaction trigger).
func (p *LeafPage) SetChainLimit(n int) { p.chainLimit = n }

// ChainDepth returns the current head's chain depth, or 0 for an empty page.
func (p *LeafPage) ChainDepth() int {
	h := p.head.Load()
	if h == nil {
		return 0
	}

	return h.ChainDepth()
}

// Dirty reports whether the page has unflushed mutations.
func (p *LeafPage) Dirty() bool { return p.dirty.Load() }

// MarkClean clears the dirty bit; called by the Flusher after a successful
// PageStore.UpdateReplacement whose LSN covers the page's current LSN.
func (p *LeafPage) MarkClean(flushedLSN uint64) {
	p.lastFlushedLSN.Store(flushedLSN)
	p.dirty.Store(false)
}

// LSN returns the page's current (highest-assigned) log sequence number.
func (p *LeafPage) LSN() uint64 { return p.currentLSN.Load() }

// LastFlushedLSN returns the highest LSN confirmed persisted to PageStore.
func (p *LeafPage) LastFlushedLSN() uint64 { return p.lastFlushedLSN.Load() }

// TryBeginFlush sets the in-flusher flag exactly once per dirty epoch,
// reporting whether this call won the race (spec §4.4 TryInsertDirtyPage).
func (p *LeafPage) TryBeginFlush() bool { return p.inFlusher.CompareAndSwap(false, true) }

// EndFlush clears the in-flusher flag.
func (p *LeafPage) EndFlush() { p.inFlusher.Store(false) }

// SetRow builds a single-entry DeltaNode for r and prepends it to the chain,
// then runs the compaction policy (spec §4.3 SetRow).
func (p *LeafPage) SetRow(r row.Row, writeTs TxnTs, lsn uint64, opts WriteOpts) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	n := NewSingleSet(r, writeTs)
	p.publishLocked(n, lsn)
	p.maybeCompactLocked(opts.ForceCompaction)
}

// DeleteRow builds a one-entry tombstone node and prepends it, then runs the
// compaction policy (spec §4.3 DeleteRow).
func (p *LeafPage) DeleteRow(sortKey []byte, writeTs TxnTs, lsn uint64, opts WriteOpts) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	n := NewSingleDelete(sortKey, writeTs)
	p.publishLocked(n, lsn)
	p.maybeCompactLocked(opts.ForceCompaction)
}

// publishLocked links n ahead of the current head and swaps it in. Caller
// must hold writeMu.
func (p *LeafPage) publishLocked(n *DeltaNode, lsn uint64) {
	prev := p.head.Load()
	n.previous = prev

	if prev != nil {
		n.totalLength = 1 + prev.totalLength
	} else {
		n.totalLength = 1
	}

	p.head.Store(n)
	p.currentLSN.Store(lsn)
	p.dirty.Store(true)
}

// SetTs rewrites the newest entry's write_ts for sortKey from a locked
// marker to newTs (typically commit_ts or kAbortedTxnTs). Implemented as an
// in-place rewrite (spec §4.3's second option, chosen per DESIGN.md): the
// newest node holding sortKey is replaced by a fresh DeltaNode aliasing its
// buffers with that one entry's ts patched, and the nodes above it are
// re-linked as shallow copies. This preserves the ts-desc invariant since
// the rewritten entry is already the newest for that key. Reports false if
// no node in the chain holds sortKey.
func (p *LeafPage) SetTs(sortKey []byte, newTs TxnTs, lsn uint64) bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	head := p.head.Load()
	if head == nil {
		return false
	}

	var above []*DeltaNode

	n := head
	rewritten, ok := n.rewriteHead(sortKey, newTs)

	for !ok && n.previous != nil {
		above = append(above, n)
		n = n.previous
		rewritten, ok = n.rewriteHead(sortKey, newTs)
	}

	if !ok {
		return false
	}

	for i := len(above) - 1; i >= 0; i-- {
		cp := *above[i]
		cp.previous = rewritten
		rewritten = &cp
	}

	p.head.Store(rewritten)
	p.currentLSN.Store(lsn)
	p.dirty.Store(true)

	return true
}

// GetRow walks the chain head→tail looking for sortKey, honoring the
// locked-intent visibility rules of spec §4.3.
func (p *LeafPage) GetRow(sortKey []byte, readTs TxnTs, opts ReadOpts) (ReadResult, row.Row) {
	result, r, _ := p.GetRowWithTs(sortKey, readTs, opts)

	return result, r
}

// GetRowWithTs is GetRow but additionally reports the unmarked write_ts of
// the version selected (the ts of the matched intent, with its locked bit
// cleared, if matched via OwnerTs). OCC's commit-time read-set validation
// compares this value against the ts recorded at read time (spec §4.8).
func (p *LeafPage) GetRowWithTs(sortKey []byte, readTs TxnTs, opts ReadOpts) (ReadResult, row.Row, TxnTs) {
	for n := p.head.Load(); n != nil; n = n.previous {
		var (
			result    ReadResult
			matched   bool
			conflict  bool
			matchedR  row.Row
			matchedTs TxnTs
		)

		n.ForEachVersionOfKey(sortKey, func(ts TxnTs, isTombstone bool, r row.Row) bool {
			if ts.IsLocked() {
				if ts.Unmarked() == opts.OwnerTs {
					if opts.SkipOwnerIntent {
						return false
					}

					matched = true
					matchedR = r
					matchedTs = ts.Unmarked()

					if isTombstone {
						result = ReadDeleted
					} else {
						result = ReadFound
					}

					return true
				}

				if opts.CheckLock && !opts.IgnoreLock {
					conflict = true

					return true
				}

				// Not our intent and not failing fast: fall through to
				// the next older version for this key.
				return false
			}

			if ts > readTs {
				return false
			}

			matched = true
			matchedR = r
			matchedTs = ts

			if isTombstone {
				result = ReadDeleted
			} else {
				result = ReadFound
			}

			return true
		})

		if conflict {
			return ReadConflict, nil, 0
		}

		if matched {
			return result, matchedR, matchedTs
		}
	}

	return ReadNotFound, nil, 0
}

// ScanMode selects RangeFilter's ordering guarantee.
type ScanMode uint8

const (
	// ScanSorted yields entries in sort-key ascending order (requires a
	// compaction-like merge across the chain).
	ScanSorted ScanMode = iota
	// ScanUnsorted yields entries as encountered, head to tail, with no
	// ordering guarantee; used only when the caller does not require
	// order.
	ScanUnsorted
)

// RangeFilter folds the chain into a stream of visible rows at readTs,
// applying predicate to each sort-key (spec §4.3 RangeFilter). predicate
// receives the sort-key bytes and returns whether to include it.
func (p *LeafPage) RangeFilter(mode ScanMode, readTs TxnTs, predicate func(sortKey []byte) bool, visit func(r row.Row, isDeleted bool)) {
	head := p.head.Load()
	if head == nil {
		return
	}

	if mode == ScanUnsorted {
		seen := map[string]bool{}

		for n := head; n != nil; n = n.previous {
			n.Traverse(func(v VisitedVersion) bool {
				k := string(v.Row.SortKeyBytes())
				if seen[k] {
					return true
				}

				if v.WriteTs.IsLocked() || v.WriteTs > readTs {
					return true
				}

				seen[k] = true

				if predicate(v.Row.SortKeyBytes()) {
					visit(v.Row, v.IsDeleted)
				}

				return true
			})
		}

		return
	}

	merged := Compact(chainToSlice(head))

	seen := map[string]bool{}

	merged.Traverse(func(v VisitedVersion) bool {
		k := string(v.Row.SortKeyBytes())
		if seen[k] {
			return true
		}

		if v.WriteTs.IsLocked() || v.WriteTs > readTs {
			return true
		}

		seen[k] = true

		if predicate(v.Row.SortKeyBytes()) {
			visit(v.Row, v.IsDeleted)
		}

		return true
	})
}

// maybeCompactLocked implements the compaction policy: collapse the chain
// when opts.force_compaction is set or chain_depth exceeds chainLimit
// (spec §4.3). Caller must hold writeMu.
func (p *LeafPage) maybeCompactLocked(force bool) {
	head := p.head.Load()
	if head == nil {
		return
	}

	if !force && head.ChainDepth() <= p.chainLimit {
		return
	}

	compacted := Compact(chainToSlice(head))
	compacted.totalLength = 1
	p.head.Store(compacted)
}
