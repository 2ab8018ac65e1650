package page

import (
	"bytes"
	"sort"

	"github.com/arcanedb/arcanedb/pkg/row"
)

// LookupResult is the outcome of a point lookup against a DeltaNode chain.
type LookupResult uint8

const (
	// NotFound means the sort-key has no entry anywhere in the chain.
	NotFound LookupResult = iota
	// Found means a visible, non-tombstone row was located.
	Found
	// Deleted means the first visible version at or below read_ts is a
	// tombstone (spec §4.2 point_lookup).
	Deleted
)

// oldVersion is one historical version of a key, older than the entry's own
// (newest) version; oldVersions[i] is the version chain for entries[i],
// ordered newest-first, stored in the parallel "old-versions" buffer.
type oldVersion struct {
	controlBit uint32
	writeTs    TxnTs
}

// DeltaNode is an immutable, reference-counted batch of versioned row
// mutations (spec §3, §4.2). Entries are ordered by sort-key ascending.
// Once published, a DeltaNode's fields are never mutated; new state is
// always expressed by prepending a fresh node ahead of it in the chain.
type DeltaNode struct {
	buffer  []byte  // concatenated newest-version rows
	entries []Entry // parallel to buffer offsets, sort-key ascending

	oldBuffer   []byte         // concatenated older-version rows, if any
	oldVersions [][]oldVersion // oldVersions[i] belongs to entries[i]

	previous *DeltaNode // chain link to the next-older node; nil at the tail

	totalLength int // 1 + previous.totalLength; the chain depth
}

// NewSingleSet builds a one-entry DeltaNode containing a full row
// (spec §4.2 new_single_set).
func NewSingleSet(r row.Row, writeTs TxnTs) *DeltaNode {
	return &DeltaNode{
		buffer:      append([]byte(nil), r...),
		entries:     []Entry{newEntry(0, false, writeTs)},
		totalLength: 1,
	}
}

// NewSingleDelete builds a one-entry tombstone node serializing only the
// sort-key portion of a row (spec §4.2 new_single_delete).
func NewSingleDelete(sortKey []byte, writeTs TxnTs) *DeltaNode {
	r := row.FromEncodedSortKey(sortKey)

	return &DeltaNode{
		buffer:      []byte(r),
		entries:     []Entry{newEntry(0, true, writeTs)},
		totalLength: 1,
	}
}

// Previous returns the next-older node in the chain, or nil at the tail.
func (d *DeltaNode) Previous() *DeltaNode { return d.previous }

// ChainDepth returns total_length: 1 + previous's chain depth.
func (d *DeltaNode) ChainDepth() int { return d.totalLength }

// EntryCount returns the number of distinct keys held directly by this node
// (not counting older versions chained behind each entry).
func (d *DeltaNode) EntryCount() int { return len(d.entries) }

func rowAt(buffer []byte, offset int) row.Row {
	total := row.Row(buffer[offset:]).TotalLen()

	return row.Row(buffer[offset : offset+total])
}

// sortKeyAt returns the sort-key bytes of the row stored at offset.
func sortKeyAt(buffer []byte, offset int) []byte {
	return rowAt(buffer, offset).SortKeyBytes()
}

// PointLookup binary-searches this single node's entries by sort-key; it
// does not walk d.previous. LeafPage's chain walk (GetRowWithTs in
// leaf.go) does not use it; it calls ForEachVersionOfKey node by node.
//
// Within the node, it first inspects the entry's own version; if that
// version's write_ts is above read_ts it falls through to the per-key
// old-versions vector, returning the first version visible at read_ts
// (spec §4.2).
func (d *DeltaNode) PointLookup(sortKey []byte, readTs TxnTs) (LookupResult, row.Row) {
	i := sort.Search(len(d.entries), func(i int) bool {
		return bytes.Compare(sortKeyAt(d.buffer, d.entries[i].Offset()), sortKey) >= 0
	})

	if i >= len(d.entries) || !bytes.Equal(sortKeyAt(d.buffer, d.entries[i].Offset()), sortKey) {
		return NotFound, nil
	}

	entry := d.entries[i]
	if entry.WriteTs <= readTs {
		if entry.IsTombstone() {
			return Deleted, nil
		}

		return Found, rowAt(d.buffer, entry.Offset())
	}

	if i < len(d.oldVersions) {
		for _, ov := range d.oldVersions[i] {
			if ov.writeTs > readTs {
				continue
			}

			if ov.controlBit&tombstoneBit != 0 {
				return Deleted, nil
			}

			return Found, rowAt(d.oldBuffer, int(ov.controlBit&^tombstoneBit))
		}
	}

	return NotFound, nil
}

// ForEachVersionOfKey walks this node's own per-key version list for
// sortKey — the entry's newest version, then its old-versions chain,
// newest to oldest — without any read_ts filtering. fn returning true
// stops iteration early. Reports whether sortKey has any entry in this
// node at all (regardless of whether fn stopped early).
func (d *DeltaNode) ForEachVersionOfKey(sortKey []byte, fn func(ts TxnTs, isTombstone bool, r row.Row) bool) bool {
	i := sort.Search(len(d.entries), func(i int) bool {
		return bytes.Compare(sortKeyAt(d.buffer, d.entries[i].Offset()), sortKey) >= 0
	})

	if i >= len(d.entries) || !bytes.Equal(sortKeyAt(d.buffer, d.entries[i].Offset()), sortKey) {
		return false
	}

	entry := d.entries[i]
	if fn(entry.WriteTs, entry.IsTombstone(), rowAt(d.buffer, entry.Offset())) {
		return true
	}

	if i < len(d.oldVersions) {
		for _, ov := range d.oldVersions[i] {
			deleted := ov.controlBit&tombstoneBit != 0
			r := rowAt(d.oldBuffer, int(ov.controlBit&^tombstoneBit))

			if fn(ov.writeTs, deleted, r) {
				return true
			}
		}
	}

	return true
}

// VisitedVersion is one (row, deleted, write_ts) tuple yielded by Traverse.
type VisitedVersion struct {
	Row       row.Row
	IsDeleted bool
	WriteTs   TxnTs
}

// Traverse streams every version held directly by this node, in-node order:
// each entry's newest version first, then its old-versions chain, newest to
// oldest (spec §4.2 traverse). visitor returning false stops iteration early.
func (d *DeltaNode) Traverse(visitor func(VisitedVersion) bool) {
	for i, entry := range d.entries {
		if !visitor(VisitedVersion{Row: rowAt(d.buffer, entry.Offset()), IsDeleted: entry.IsTombstone(), WriteTs: entry.WriteTs}) {
			return
		}

		if i >= len(d.oldVersions) {
			continue
		}

		for _, ov := range d.oldVersions[i] {
			deleted := ov.controlBit&tombstoneBit != 0
			r := rowAt(d.oldBuffer, int(ov.controlBit&^tombstoneBit))

			if !visitor(VisitedVersion{Row: r, IsDeleted: deleted, WriteTs: ov.writeTs}) {
				return
			}
		}
	}
}

// rewriteHead returns a new DeltaNode aliasing this node's buffers but with
// the entry for sortKey's write_ts replaced by newTs. Used by
// LeafPage.SetTs to implement the in-place rewrite (spec §4.3,
// resolved in favor of this approach over a ts-patch delta — see
// DESIGN.md). SetTs calls it on the newest node holding sortKey and
// re-links any nodes above that one onto the result.
func (d *DeltaNode) rewriteHead(sortKey []byte, newTs TxnTs) (*DeltaNode, bool) {
	i := sort.Search(len(d.entries), func(i int) bool {
		return bytes.Compare(sortKeyAt(d.buffer, d.entries[i].Offset()), sortKey) >= 0
	})

	if i >= len(d.entries) || !bytes.Equal(sortKeyAt(d.buffer, d.entries[i].Offset()), sortKey) {
		return nil, false
	}

	entries := append([]Entry(nil), d.entries...)
	entries[i] = Entry{ControlBit: entries[i].ControlBit, WriteTs: newTs}

	return &DeltaNode{
		buffer:      d.buffer,
		entries:     entries,
		oldBuffer:   d.oldBuffer,
		oldVersions: d.oldVersions,
		previous:    d.previous,
		totalLength: d.totalLength,
	}, true
}
