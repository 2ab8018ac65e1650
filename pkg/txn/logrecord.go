package txn

import (
	"encoding/binary"
	"runtime"

	"github.com/arcanedb/arcanedb/pkg/page"
	"github.com/arcanedb/arcanedb/pkg/wal"
)

// Payload layouts for the WAL records pkg/txn writes. wal.LogStore only
// cares about framing ([lsn][payload_len][payload]); the payload's shape
// beyond its leading wal.RecordType tag is this package's concern (spec
// §4.7's "produced by the bwtree/occ log writers").

func appendUint16Prefixed(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b)))

	return append(buf, b...)
}

func encodeSetRowPayload(txnID uint64, pageKey, sortKey, rowBytes []byte, writeTs page.TxnTs) []byte {
	buf := make([]byte, 0, 1+8+4+2+len(pageKey)+2+len(sortKey)+2+len(rowBytes))
	buf = append(buf, byte(wal.RecordSetRow))
	buf = binary.LittleEndian.AppendUint64(buf, txnID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(writeTs))
	buf = appendUint16Prefixed(buf, pageKey)
	buf = appendUint16Prefixed(buf, sortKey)
	buf = appendUint16Prefixed(buf, rowBytes)

	return buf
}

func encodeDeleteRowPayload(txnID uint64, pageKey, sortKey []byte, writeTs page.TxnTs) []byte {
	buf := make([]byte, 0, 1+8+4+2+len(pageKey)+2+len(sortKey))
	buf = append(buf, byte(wal.RecordDeleteRow))
	buf = binary.LittleEndian.AppendUint64(buf, txnID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(writeTs))
	buf = appendUint16Prefixed(buf, pageKey)
	buf = appendUint16Prefixed(buf, sortKey)

	return buf
}

func encodeSetTsPayload(txnID uint64, pageKey, sortKey []byte, newTs page.TxnTs) []byte {
	buf := make([]byte, 0, 1+8+4+2+len(pageKey)+2+len(sortKey))
	buf = append(buf, byte(wal.RecordSetTs))
	buf = binary.LittleEndian.AppendUint64(buf, txnID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(newTs))
	buf = appendUint16Prefixed(buf, pageKey)
	buf = appendUint16Prefixed(buf, sortKey)

	return buf
}

func encodeOCCMarkerPayload(rt wal.RecordType, txnID uint64, ts page.TxnTs) []byte {
	buf := make([]byte, 0, 1+8+4)
	buf = append(buf, byte(rt))
	buf = binary.LittleEndian.AppendUint64(buf, txnID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ts))

	return buf
}

// waitForPersistentLsn spins until the WAL confirms lsn durable, the same
// yield loop pkg/flusher uses while waiting on the persistent LSN (spec
// §4.7).
func waitForPersistentLsn(w PersistentLSNWaiter, lsn uint64) {
	for w.GetPersistentLsn() < lsn {
		runtime.Gosched()
	}
}
