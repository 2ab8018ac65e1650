// Package page implements the bw-tree-style leaf page: an immutable,
// reference-counted chain of DeltaNodes (spec §3, §4.2) addressed through a
// single LeafPage with a lock-free-for-readers head pointer (spec §4.3).
package page

// TxnTs is the 32-bit monotonically increasing logical timestamp used
// throughout the engine to order row versions (spec §3). The high bit is
// reserved as the "locked/intent" marker: a version whose write_ts has that
// bit set is an uncommitted write intent, not yet visible to other readers.
type TxnTs uint32

const lockedBit TxnTs = 1 << 31

// kMaxTxnTs is the sentinel used as an unbounded snapshot horizon: a
// read-only transaction with this read_ts observes every committed version.
const kMaxTxnTs TxnTs = ^TxnTs(0) &^ lockedBit

// MaxTxnTs returns the unbounded-snapshot sentinel ts.
func MaxTxnTs() TxnTs { return kMaxTxnTs }

// kAbortedTxnTs marks a version whose owning transaction aborted; the
// compactor reaps entries at this ts during compaction (spec §4.2, §4.3).
const kAbortedTxnTs TxnTs = lockedBit | 1

// AbortedTxnTs returns the aborted-version sentinel ts.
func AbortedTxnTs() TxnTs { return kAbortedTxnTs }

// MarkLocked returns ts with the locked/intent bit set, used by OCC writers
// to publish an uncommitted write (spec §4.3, §4.8).
func MarkLocked(ts TxnTs) TxnTs { return ts | lockedBit }

// IsLocked reports whether ts carries the locked/intent marker.
func (ts TxnTs) IsLocked() bool { return ts&lockedBit != 0 }

// Unmarked returns ts with the locked bit cleared, i.e. the read_ts that was
// marked by MarkLocked.
func (ts TxnTs) Unmarked() TxnTs { return ts &^ lockedBit }

// IsAborted reports whether ts is the aborted-version sentinel.
func (ts TxnTs) IsAborted() bool { return ts == kAbortedTxnTs }
