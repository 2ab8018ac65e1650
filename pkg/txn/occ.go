package txn

import (
	"github.com/arcanedb/arcanedb/pkg/cache"
	"github.com/arcanedb/arcanedb/pkg/locktable"
	"github.com/arcanedb/arcanedb/pkg/page"
	"github.com/arcanedb/arcanedb/pkg/row"
	"github.com/arcanedb/arcanedb/pkg/wal"
)

// readEntry is one key's read-set record: the ts observed when it was
// read, used to re-validate visibility at commit_ts (spec §4.8 step 3).
type readEntry struct {
	pageKey, sortKey []byte
	ts               page.TxnTs
}

// writeEntry is one key's write-set record: either a row to set, or a
// tombstone (row == nil) to delete.
type writeEntry struct {
	pageKey, sortKey []byte
	row              row.Row
	isDelete         bool
}

// TxnOCC is a Hekaton-style optimistic concurrency control transaction
// context (spec §4.8): writes are buffered and published as locked
// intents only at Commit time, after which the read set is revalidated
// against a freshly minted commit_ts before the intents are made visible.
type TxnOCC struct {
	mgr   TxnManager
	pool  *cache.BufferPool
	locks *locktable.LockTable
	log   LogAppender
	opts  Options
	mode  Mode

	txnID  uint64
	readTs page.TxnTs

	reads  []readEntry
	writes map[string]*writeEntry
	order  []string // insertion order of writes, for deterministic intent publication

	// lockedKeys tracks which keys Commit actually acquired the lock
	// for, so finishUnlocked releases exactly those — not every write-set
	// key, which may outnumber them if publishIntents failed partway
	// through (e.g. a lock timeout on a later key).
	lockedKeys map[string]struct{}

	done bool
}

// NewTxnOCC begins an OCC transaction, minting a txn_id and a read_ts
// snapshot.
func NewTxnOCC(mgr TxnManager, pool *cache.BufferPool, locks *locktable.LockTable, log LogAppender, mode Mode, opts Options) *TxnOCC {
	return &TxnOCC{
		mgr:        mgr,
		pool:       pool,
		locks:      locks,
		log:        log,
		opts:       opts,
		mode:       mode,
		txnID:      mgr.NextTxnID(),
		readTs:     mgr.BeginSnapshot(),
		writes:     make(map[string]*writeEntry),
		lockedKeys: make(map[string]struct{}),
	}
}

// TxnID returns the identifier minted for this transaction.
func (t *TxnOCC) TxnID() uint64 { return t.txnID }

// ReadTs returns the snapshot timestamp reads are performed at.
func (t *TxnOCC) ReadTs() page.TxnTs { return t.readTs }

func writeKey(pageKey, sortKey []byte) string { return locktable.Key(pageKey, sortKey) }

// GetRow reads sortKey at this transaction's read_ts, consulting the local
// write set first (read-your-own-writes) before falling through to the
// page. Every page read is recorded in the read set for commit-time
// validation, unless OnlySingleEdgeTxn is set (spec §9 Open Question:
// single-key transactions have nothing to validate against).
func (t *TxnOCC) GetRow(pageKey, sortKey []byte) (row.Row, error) {
	if t.done {
		return nil, ErrDone
	}

	if w, ok := t.writes[writeKey(pageKey, sortKey)]; ok {
		if w.isDelete {
			return nil, ErrNotFound
		}

		return w.row, nil
	}

	holder, err := t.pool.GetPage(pageKey)
	if err != nil {
		return nil, err
	}
	defer holder.Release()

	result, r, ts := holder.Page.GetRowWithTs(sortKey, t.readTs, page.ReadOpts{
		IgnoreLock: t.opts.IgnoreLock,
		CheckLock:  t.opts.CheckIntentLocked,
	})

	switch result {
	case page.ReadConflict:
		return nil, ErrConflict
	case page.ReadNotFound:
		if !t.opts.OnlySingleEdgeTxn {
			t.reads = append(t.reads, readEntry{pageKey: pageKey, sortKey: sortKey, ts: 0})
		}

		return nil, ErrNotFound
	case page.ReadDeleted:
		if !t.opts.OnlySingleEdgeTxn {
			t.reads = append(t.reads, readEntry{pageKey: pageKey, sortKey: sortKey, ts: ts})
		}

		return nil, ErrNotFound
	default: // page.ReadFound
		if !t.opts.OnlySingleEdgeTxn {
			t.reads = append(t.reads, readEntry{pageKey: pageKey, sortKey: sortKey, ts: ts})
		}

		return r, nil
	}
}

// SetRow buffers r into the write set; nothing is published to the page
// until Commit.
func (t *TxnOCC) SetRow(pageKey []byte, r row.Row) error {
	if t.done {
		return ErrDone
	}

	if t.mode != ModeReadWrite {
		return ErrReadOnly
	}

	key := writeKey(pageKey, r.SortKeyBytes())
	if _, exists := t.writes[key]; !exists {
		t.order = append(t.order, key)
	}

	t.writes[key] = &writeEntry{pageKey: pageKey, sortKey: r.SortKeyBytes(), row: r}

	return nil
}

// DeleteRow buffers a tombstone into the write set.
func (t *TxnOCC) DeleteRow(pageKey, sortKey []byte) error {
	if t.done {
		return ErrDone
	}

	if t.mode != ModeReadWrite {
		return ErrReadOnly
	}

	key := writeKey(pageKey, sortKey)
	if _, exists := t.writes[key]; !exists {
		t.order = append(t.order, key)
	}

	t.writes[key] = &writeEntry{pageKey: pageKey, sortKey: sortKey, isDelete: true}

	return nil
}

// Commit runs the four-step Hekaton protocol (spec §4.8):
//  1. acquire a lock per write-set key and publish each as a locked intent
//     at write_ts = MarkLocked(read_ts);
//  2. mint commit_ts;
//  3. re-read every read-set key at commit_ts (owner_ts = read_ts) and
//     abort if any visible ts has changed;
//  4. rewrite every intent's ts to commit_ts (SetTs), release all locks.
//
// On any failure the write-set intents already published are rewritten to
// the aborted sentinel instead, and the error is returned: ErrConflict or
// ErrAbort from validation, ErrTimeout from a lock wait, or a page-load or
// WAL error.
func (t *TxnOCC) Commit() error {
	if t.done {
		return ErrDone
	}

	if len(t.writes) == 0 {
		return t.finishUnlocked()
	}

	published, err := t.publishIntents()
	if err != nil {
		t.rollbackIntents(published)
		t.finishUnlocked() //nolint:errcheck

		return err
	}

	commitTs := t.mgr.NextTs()

	if err := t.validateReadSet(commitTs); err != nil {
		t.rollbackIntents(published)
		t.finishUnlocked() //nolint:errcheck

		return err
	}

	t.commitIntents(published, commitTs)
	t.finishUnlocked() //nolint:errcheck

	return nil
}

// Abort discards the write set without publishing anything and releases
// any locks acquired so far.
func (t *TxnOCC) Abort() error {
	if t.done {
		return ErrDone
	}

	return t.finishUnlocked()
}

type publishedIntent struct {
	key              string
	pageKey, sortKey []byte
}

func (t *TxnOCC) publishIntents() ([]publishedIntent, error) {
	lockedTs := page.MarkLocked(t.readTs)
	published := make([]publishedIntent, 0, len(t.order))

	for _, key := range t.order {
		w := t.writes[key]

		status := t.locks.Lock(key, t.txnID)
		if status == locktable.StatusTimeout {
			return published, ErrTimeout
		}

		t.lockedKeys[key] = struct{}{}

		holder, err := t.pool.GetPage(w.pageKey)
		if err != nil {
			return published, err
		}

		var lsn uint64

		if t.opts.EnableWAL && t.log != nil {
			var payload []byte
			if w.isDelete {
				payload = encodeDeleteRowPayload(t.txnID, w.pageKey, w.sortKey, lockedTs)
			} else {
				payload = encodeSetRowPayload(t.txnID, w.pageKey, w.sortKey, w.row, lockedTs)
			}

			lsn, err = t.log.Append(payload)
			if err != nil {
				holder.Release()

				return published, err
			}
		}

		if w.isDelete {
			holder.Page.DeleteRow(w.sortKey, lockedTs, lsn, page.WriteOpts{ForceCompaction: t.opts.ForceCompaction})
		} else {
			holder.Page.SetRow(w.row, lockedTs, lsn, page.WriteOpts{ForceCompaction: t.opts.ForceCompaction})
		}

		t.pool.TryInsertDirtyPage(holder)
		holder.Release()

		published = append(published, publishedIntent{key: key, pageKey: w.pageKey, sortKey: w.sortKey})
	}

	return published, nil
}

// validateReadSet re-reads every recorded key at commit_ts, with
// SkipOwnerIntent so a key this same transaction has since written (its
// own just-published, not-yet-committed intent) is looked past to the
// version underneath rather than trivially matching itself — otherwise a
// concurrent committed write sandwiched between the original read and
// this transaction's intent publication would go undetected. Any mismatch
// against the ts recorded at read time means such a write landed, and the
// transaction must abort (spec §4.8 step 3).
func (t *TxnOCC) validateReadSet(commitTs page.TxnTs) error {
	for _, re := range t.reads {
		holder, err := t.pool.GetPage(re.pageKey)
		if err != nil {
			return err
		}

		result, _, ts := holder.Page.GetRowWithTs(re.sortKey, commitTs, page.ReadOpts{OwnerTs: t.readTs, SkipOwnerIntent: true})
		holder.Release()

		switch result {
		case page.ReadFound, page.ReadDeleted:
			if ts != re.ts {
				return ErrAbort
			}
		case page.ReadNotFound:
			if re.ts != 0 {
				return ErrAbort
			}
		case page.ReadConflict:
			return ErrConflict
		}
	}

	return nil
}

func (t *TxnOCC) commitIntents(published []publishedIntent, commitTs page.TxnTs) {
	for _, p := range published {
		holder, err := t.pool.GetPage(p.pageKey)
		if err != nil {
			continue
		}

		var lsn uint64
		if t.opts.EnableWAL && t.log != nil {
			if l, err := t.log.Append(encodeSetTsPayload(t.txnID, p.pageKey, p.sortKey, commitTs)); err == nil {
				lsn = l
			}
		}

		holder.Page.SetTs(p.sortKey, commitTs, lsn)
		t.pool.TryInsertDirtyPage(holder)
		holder.Release()
	}

	if t.opts.EnableWAL && t.log != nil {
		lsn, err := t.log.Append(encodeOCCMarkerPayload(wal.RecordOCCCommit, t.txnID, commitTs))
		if err == nil && t.opts.SyncCommit {
			if waiter, ok := t.log.(PersistentLSNWaiter); ok {
				waitForPersistentLsn(waiter, lsn)
			}
		}
	}
}

func (t *TxnOCC) rollbackIntents(published []publishedIntent) {
	for _, p := range published {
		holder, err := t.pool.GetPage(p.pageKey)
		if err != nil {
			continue
		}

		holder.Page.SetTs(p.sortKey, page.AbortedTxnTs(), holder.Page.LSN())
		t.pool.TryInsertDirtyPage(holder)
		holder.Release()
	}

	if t.opts.EnableWAL && t.log != nil {
		_, _ = t.log.Append(encodeOCCMarkerPayload(wal.RecordOCCAbort, t.txnID, t.readTs))
	}
}

func (t *TxnOCC) finishUnlocked() error {
	for key := range t.lockedKeys {
		t.locks.Unlock(key, t.txnID)
	}

	t.lockedKeys = nil
	t.mgr.EndSnapshot(t.readTs)
	t.done = true

	return nil
}
