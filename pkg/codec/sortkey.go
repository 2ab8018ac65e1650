package codec

import "bytes"

// SortKey is an owned, order-preserving encoded sort-key byte sequence.
// Byte-wise comparison of two SortKeys reflects the natural ordering of the
// underlying typed tuples (spec §3).
type SortKey []byte

// SortKeyRef borrows encoded sort-key bytes without copying, typically a
// slice into a DeltaNode's shared buffer.
type SortKeyRef []byte

// Compare returns -1, 0, or 1 per [bytes.Compare] semantics.
func (k SortKey) Compare(other SortKeyRef) int {
	return bytes.Compare(k, other)
}

// Compare returns -1, 0, or 1 per [bytes.Compare] semantics.
func (k SortKeyRef) Compare(other SortKeyRef) int {
	return bytes.Compare(k, other)
}

// EncodeSortKey encodes the ordered tuple of values into a [SortKey].
// Used both for full rows (the first sortKeyCount columns) and for
// standalone sort-key lookups/tombstones.
func EncodeSortKey(values []Value) (SortKey, error) {
	var buf bytes.Buffer

	for _, v := range values {
		err := EncodeOrderedValue(&buf, v)
		if err != nil {
			return nil, err
		}
	}

	return SortKey(buf.Bytes()), nil
}

// DecodeSortKey decodes a full sort-key byte sequence back into its typed
// tuple. Sort-key columns have no other on-disk representation, so decoding
// the whole tuple at once is the only way to recover their values.
func DecodeSortKey(encoded []byte) ([]Value, error) {
	r := bytes.NewReader(encoded)

	var values []Value

	for r.Len() > 0 {
		v, err := DecodeOrderedValue(r)
		if err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	return values, nil
}
