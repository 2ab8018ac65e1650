package page

import "sort"

// Compact builds a single DeltaNode from a sequence of nodes ordered newest
// to oldest (typically a LeafPage's chain walked head→tail). For each key it
// keeps every non-aborted version: the newest becomes the primary entry, the
// rest form that key's old-versions chain. Aborted versions
// (write_ts == kAbortedTxnTs) are dropped entirely (spec §4.2).
//
// Determinism: keys are ordered purely by their sort-key bytes and each
// key's versions are appended in the deterministic order they are
// encountered walking nodes head→tail, so identical input chains always
// produce byte-identical output, independent of map iteration order.
func Compact(nodesHeadToTail []*DeltaNode) *DeltaNode {
	versions := map[string][]VisitedVersion{}

	var keyOrder []string

	for _, n := range nodesHeadToTail {
		if n == nil {
			continue
		}

		n.Traverse(func(v VisitedVersion) bool {
			k := string(v.Row.SortKeyBytes())

			if _, seen := versions[k]; !seen {
				keyOrder = append(keyOrder, k)
			}

			versions[k] = append(versions[k], v)

			return true
		})
	}

	sort.Strings(keyOrder)

	out := &DeltaNode{}

	for _, k := range keyOrder {
		kept := make([]VisitedVersion, 0, len(versions[k]))

		for _, v := range versions[k] {
			if v.WriteTs.IsAborted() {
				continue
			}

			kept = append(kept, v)
		}

		if len(kept) == 0 {
			continue
		}

		primary := kept[0]
		offset := len(out.buffer)
		out.buffer = append(out.buffer, primary.Row...)
		out.entries = append(out.entries, newEntry(offset, primary.IsDeleted, primary.WriteTs))

		var old []oldVersion

		for _, v := range kept[1:] {
			oldOffset := len(out.oldBuffer)
			out.oldBuffer = append(out.oldBuffer, v.Row...)

			cb := uint32(oldOffset)
			if v.IsDeleted {
				cb |= tombstoneBit
			}

			old = append(old, oldVersion{controlBit: cb, writeTs: v.WriteTs})
		}

		out.oldVersions = append(out.oldVersions, old)
	}

	out.totalLength = 1

	return out
}

// chainToSlice materializes the previous-linked chain starting at head,
// head-first, for Compact/RangeFilter consumption.
func chainToSlice(head *DeltaNode) []*DeltaNode {
	var nodes []*DeltaNode

	for n := head; n != nil; n = n.previous {
		nodes = append(nodes, n)
	}

	return nodes
}
