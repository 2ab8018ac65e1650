package page

import (
	"encoding/binary"
	"fmt"
)

const snapshotVersion uint16 = 1

const snapshotHeaderSize = 2 + 4 + 4 // version + entry_count + buffer_len

// Snapshot is an immutable capture of a LeafPage's head pointer and the LSN
// in effect when it was taken (spec §4.3 GetPageSnapshot). It is the unit
// the Flusher persists to the PageStore and the BufferPool reinstalls when
// it loads the page again.
type Snapshot struct {
	LSN  uint64
	node *DeltaNode
}

// GetPageSnapshot captures the page's current head and LSN.
func (p *LeafPage) GetPageSnapshot() Snapshot {
	return Snapshot{LSN: p.currentLSN.Load(), node: p.head.Load()}
}

// Serialize produces the self-describing byte blob
// [version u16][entry_count u32][buffer_len u32][buffer][entries…]
// (spec §4.3). A chain of more than one node is first merged with Compact,
// so every key in the chain is written. Only the primary (newest) version
// of each key survives the round trip; a snapshot is a persistence
// artifact, not a full version history. Nothing in this module replays WAL
// records on top of an installed snapshot, so older versions are not
// restored.
func (s Snapshot) Serialize() []byte {
	node := s.node
	if node == nil {
		node = &DeltaNode{}
	} else if node.previous != nil {
		node = Compact(chainToSlice(node))
	}

	out := make([]byte, 0, snapshotHeaderSize+len(node.buffer)+8*len(node.entries))
	out = binary.LittleEndian.AppendUint16(out, snapshotVersion)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(node.entries)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(node.buffer)))
	out = append(out, node.buffer...)

	for _, e := range node.entries {
		out = binary.LittleEndian.AppendUint32(out, e.ControlBit)
		out = binary.LittleEndian.AppendUint32(out, uint32(e.WriteTs))
	}

	return out
}

// DeserializeSnapshot reconstructs an equivalent single-node DeltaNode from
// a blob produced by Snapshot.Serialize.
func DeserializeSnapshot(data []byte) (*DeltaNode, error) {
	if len(data) < snapshotHeaderSize {
		return nil, fmt.Errorf("page: snapshot too short: %d bytes", len(data))
	}

	version := binary.LittleEndian.Uint16(data)
	if version != snapshotVersion {
		return nil, fmt.Errorf("page: unsupported snapshot version %d", version)
	}

	entryCount := binary.LittleEndian.Uint32(data[2:])
	bufferLen := binary.LittleEndian.Uint32(data[6:])

	off := snapshotHeaderSize
	if off+int(bufferLen) > len(data) {
		return nil, fmt.Errorf("page: snapshot buffer_len %d overruns blob", bufferLen)
	}

	buffer := append([]byte(nil), data[off:off+int(bufferLen)]...)
	off += int(bufferLen)

	entries := make([]Entry, entryCount)

	for i := range entries {
		if off+8 > len(data) {
			return nil, fmt.Errorf("page: snapshot truncated at entry %d", i)
		}

		entries[i] = Entry{
			ControlBit: binary.LittleEndian.Uint32(data[off:]),
			WriteTs:    TxnTs(binary.LittleEndian.Uint32(data[off+4:])),
		}

		off += 8
	}

	return &DeltaNode{buffer: buffer, entries: entries, totalLength: 1}, nil
}

// BuildChainFromBlocks reconstructs a DeltaNode chain from a head-first
// sequence of serialized blobs (as returned by PageStore.ReadPage per spec
// §4.9): blocksHeadFirst[0] is the newest block, the last is the base. Each
// blob uses the Snapshot wire format; this is exact for single-mutation
// delta blocks (which never carry old-versions) and for a compacted base
// image (which only needs its primary entries restored).
func BuildChainFromBlocks(blocksHeadFirst [][]byte) (*DeltaNode, error) {
	if len(blocksHeadFirst) == 0 {
		return nil, nil
	}

	nodes := make([]*DeltaNode, len(blocksHeadFirst))

	for i, blob := range blocksHeadFirst {
		n, err := DeserializeSnapshot(blob)
		if err != nil {
			return nil, fmt.Errorf("page: reconstructing chain block %d: %w", i, err)
		}

		nodes[i] = n
	}

	for i := 0; i < len(nodes); i++ {
		if i+1 < len(nodes) {
			nodes[i].previous = nodes[i+1]
		}

		if i == len(nodes)-1 {
			nodes[i].totalLength = 1
		}
	}

	for i := len(nodes) - 2; i >= 0; i-- {
		nodes[i].totalLength = 1 + nodes[i+1].totalLength
	}

	return nodes[0], nil
}

// InstallChain installs an already-constructed chain (e.g. from
// BuildChainFromBlocks) as the page's fresh head.
func (p *LeafPage) InstallChain(head *DeltaNode, lsn uint64) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.head.Store(head)
	p.currentLSN.Store(lsn)
	p.lastFlushedLSN.Store(lsn)
	p.dirty.Store(false)
}

// InstallSnapshot deserializes data and installs it as the page's fresh
// head; the page's LSN becomes lsn (spec §4.3: "the page's LSN becomes the
// snapshot's LSN").
func (p *LeafPage) InstallSnapshot(data []byte, lsn uint64) error {
	node, err := DeserializeSnapshot(data)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.head.Store(node)
	p.currentLSN.Store(lsn)
	p.lastFlushedLSN.Store(lsn)
	p.dirty.Store(false)

	return nil
}
