// Package txnmgr mints transaction identities and timestamps: a
// collision-negligible random 64-bit txn_id, a monotonic TSO for read/write
// timestamps, and the in-flight snapshot horizon transactions read against
// (spec §4.8).
package txnmgr

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"

	"github.com/arcanedb/arcanedb/pkg/page"
)

// TxnManager is the single per-DB-instance source of txn_ids and
// timestamps. Per spec §9's note on global singletons, this is the one
// shared mutable counter the design explicitly allows, and it is scoped to
// a DB instance rather than the process.
type TxnManager struct {
	tso       atomic.Uint32
	snapshots *SnapshotManager
}

// New constructs a TxnManager with its TSO starting just above the
// reserved sentinel range so minted timestamps never collide with
// page.MaxTxnTs/page.AbortedTxnTs.
func New() *TxnManager {
	m := &TxnManager{snapshots: NewSnapshotManager()}
	m.tso.Store(1)

	return m
}

// NextTxnID mints a random 64-bit transaction identifier (spec §4.8).
// Collisions are negligible at any realistic concurrent-transaction count
// and are not detected or guarded against, matching the spec's contract.
func (m *TxnManager) NextTxnID() uint64 {
	var b [8]byte

	if _, err := rand.Read(b[:]); err != nil {
		panic("txnmgr: failed to read random bytes: " + err.Error())
	}

	return binary.LittleEndian.Uint64(b[:])
}

// NextTs mints the next value from the monotonic TSO.
func (m *TxnManager) NextTs() page.TxnTs {
	return page.TxnTs(m.tso.Add(1))
}

// Snapshots exposes the SnapshotManager tracking in-flight timestamps.
func (m *TxnManager) Snapshots() *SnapshotManager { return m.snapshots }

// BeginSnapshot mints a fresh ts and registers it as in-flight in one step
// — the common case for both a read-only txn's snapshot_ts and an OCC/2PL
// txn's read_ts.
func (m *TxnManager) BeginSnapshot() page.TxnTs {
	ts := m.NextTs()
	m.snapshots.Begin(ts)

	return ts
}

// EndSnapshot retires ts from the in-flight set. Callers invoke this for
// every ts obtained via BeginSnapshot once the owning transaction commits
// or aborts.
func (m *TxnManager) EndSnapshot(ts page.TxnTs) {
	m.snapshots.End(ts)
}

// GetSnapshotTs returns the minimum in-flight ts, or kMaxTxnTs if none
// (spec §4.8).
func (m *TxnManager) GetSnapshotTs() page.TxnTs {
	return m.snapshots.GetSnapshotTs()
}
