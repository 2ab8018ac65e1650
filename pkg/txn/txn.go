// Package txn implements the two transaction contexts specified in spec
// §4.8: TxnContextOCC (Hekaton-style optimistic concurrency control) and
// TxnContext2PL (two-phase locking), both layered over pkg/page's LeafPage,
// pkg/cache's BufferPool, pkg/locktable's LockTable, and pkg/txnmgr's
// TxnManager.
package txn

import (
	"errors"

	"github.com/arcanedb/arcanedb/pkg/page"
)

// Sentinel errors returned by transaction operations. Kept local to this
// package (rather than reusing the root arcanedb package's sentinels) to
// avoid an import cycle: arcanedb.go wraps these into *arcanedb.Error at
// the public boundary.
var (
	// ErrNotFound indicates the key is absent (or tombstoned) at the
	// transaction's read timestamp.
	ErrNotFound = errors.New("txn: not found")
	// ErrConflict indicates a visible intent owned by another transaction
	// (fail-fast read) or a changed read during OCC validation. A lock wait
	// that times out returns ErrTimeout instead.
	ErrConflict = errors.New("txn: conflict")
	// ErrAbort indicates OCC validation failed, or a write intent failed.
	ErrAbort = errors.New("txn: abort")
	// ErrTimeout indicates a LockTable wait exceeded its timeout.
	ErrTimeout = errors.New("txn: lock timeout")
	// ErrReadOnly indicates a mutation was attempted on a read-only txn.
	ErrReadOnly = errors.New("txn: read-only transaction")
	// ErrDone indicates an operation was attempted on an already
	// committed or aborted transaction.
	ErrDone = errors.New("txn: transaction already finished")
)

// Mode distinguishes a read-only transaction (which skips lock acquisition
// and OCC read-set bookkeeping beyond what validation needs) from a
// read-write one.
type Mode uint8

const (
	// ModeReadOnly reads at a fixed snapshot ts and never writes.
	ModeReadOnly Mode = iota
	// ModeReadWrite may both read and write.
	ModeReadWrite
)

// LockManagerKind selects where row locks are held (spec §4.8's "lock
// acquisition strategy options"). All three are required to be
// observable-equivalent; ArcaneDB implements Centralized (a single shared
// LockTable instance) and accepts the others as forward-compatible enum
// values without a distinct code path, since nothing in SPEC_FULL.md's
// scope exercises per-page or per-row inlined locking separately.
type LockManagerKind uint8

const (
	LockManagerCentralized LockManagerKind = iota
	LockManagerDecentralized
	LockManagerInlined
)

// Options are the per-transaction knobs enumerated in spec §6.
type Options struct {
	// IgnoreLock lets a read-only transaction fall through a visible
	// locked intent without a conflict signal.
	IgnoreLock bool
	// ForceCompaction collapses a page's delta chain after every mutation
	// this transaction performs on it.
	ForceCompaction bool
	// SyncCommit makes Commit block until the WAL has durably persisted
	// every log record this transaction wrote.
	SyncCommit bool
	// CheckIntentLocked makes a write-path read fail fast with
	// ErrConflict on a visible locked intent owned by another
	// transaction, instead of silently falling through.
	CheckIntentLocked bool
	// LockManager selects the lock acquisition strategy (spec §4.8).
	LockManager LockManagerKind
	// EnableWAL gates whether mutations are logged at all.
	EnableWAL bool
	// EnableFlush is carried for configuration parity but is not read:
	// both transaction contexts hand every page they dirty to the
	// BufferPool's flusher regardless of it.
	EnableFlush bool
	// SyncLog is carried for configuration parity but is not read; whether
	// WAL segments are fsynced is set by the LogStore's own ShouldSync
	// option, and SyncCommit is what blocks a caller on durability.
	SyncLog bool
	// OnlySingleEdgeTxn declares this transaction will touch at most one
	// (page_key, sort_key) pair, letting an OCC implementation skip
	// read-set recording entirely since there is nothing to validate
	// across keys (spec §9 Open Questions, resolved: see DESIGN.md).
	OnlySingleEdgeTxn bool
}

// TxnManager is the slice of pkg/txnmgr.TxnManager the transaction
// contexts need: txn_id minting and read/commit timestamp issuance.
type TxnManager interface {
	NextTxnID() uint64
	NextTs() page.TxnTs
	BeginSnapshot() page.TxnTs
	EndSnapshot(ts page.TxnTs)
}

// LogAppender is the slice of pkg/wal.LogStore the transaction contexts
// need: appending one already-framed record and getting back its LSN.
type LogAppender interface {
	Append(payload []byte) (uint64, error)
}

// PersistentLSNWaiter lets SyncCommit block until the WAL has durably
// persisted a given LSN.
type PersistentLSNWaiter interface {
	GetPersistentLsn() uint64
}
