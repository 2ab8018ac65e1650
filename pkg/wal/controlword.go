package wal

// Each segment's 64-bit control word packs [sealed:1 | writer_count:15 |
// lsn_offset:48] (spec §4.7). The layout is chosen so that decrementing
// writer_count by one is a plain arithmetic subtraction on an isolated bit
// range: it can never borrow into lsn_offset (bits 0-47) or the sealed bit
// (bit 63), so release() can unpack, decrement and repack the word in a
// CAS-retry loop without disturbing the other two fields.
const (
	sealedBit       = uint64(1) << 63
	writerCountUnit = uint64(1) << 48
	writerCountMask = uint64(0x7FFF) << 48
	lsnOffsetMask   = uint64(0xFFFFFFFFFFFF)

	maxSegmentOffset = lsnOffsetMask
	maxWriterCount   = uint16(0x7FFF)
)

func packControlWord(sealed bool, writerCount uint16, lsnOffset uint64) uint64 {
	word := (uint64(writerCount) << 48) | (lsnOffset & lsnOffsetMask)
	if sealed {
		word |= sealedBit
	}

	return word
}

func unpackControlWord(word uint64) (sealed bool, writerCount uint16, lsnOffset uint64) {
	sealed = word&sealedBit != 0
	writerCount = uint16((word & writerCountMask) >> 48)
	lsnOffset = word & lsnOffsetMask

	return sealed, writerCount, lsnOffset
}
