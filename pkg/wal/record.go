package wal

import "encoding/binary"

// recordHeaderSize is len(lsn) + len(payload_len): 8 + 2 (spec §4.7).
const recordHeaderSize = 8 + 2

// RecordType is the one-byte tag every log payload begins with (spec
// §4.7: "payload begins with a one-byte type and is produced by the
// bwtree/occ log writers").
type RecordType uint8

const (
	RecordSetRow RecordType = iota
	RecordDeleteRow
	RecordSetTs
	RecordOCCBegin
	RecordOCCCommit
	RecordOCCAbort
)

// Record is one decoded WAL entry: its assigned LSN and raw payload (the
// payload's first byte is a RecordType; callers in pkg/txn own its shape).
type Record struct {
	LSN     uint64
	Payload []byte
}

// encodeRecord produces the wire format [lsn u64][payload_len u16][payload].
func encodeRecord(lsn uint64, payload []byte) []byte {
	out := make([]byte, 0, recordHeaderSize+len(payload))
	out = binary.LittleEndian.AppendUint64(out, lsn)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)

	return out
}

// decodeRecord reads one record starting at buf[0]. It returns the number
// of bytes consumed, or ok=false if buf does not contain a full record
// (used by ReadAll to detect a torn tail record left by a crash).
func decodeRecord(buf []byte) (rec Record, consumed int, ok bool) {
	if len(buf) < recordHeaderSize {
		return Record{}, 0, false
	}

	lsn := binary.LittleEndian.Uint64(buf)
	payloadLen := int(binary.LittleEndian.Uint16(buf[8:]))

	total := recordHeaderSize + payloadLen
	if len(buf) < total {
		return Record{}, 0, false
	}

	payload := append([]byte(nil), buf[recordHeaderSize:total]...)

	return Record{LSN: lsn, Payload: payload}, total, true
}
