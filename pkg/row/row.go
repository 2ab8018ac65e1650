// Package row implements the Row codec from spec §4.1: a self-describing
// byte layout of [total_len u16][sort_key_len u16][sort_key
// bytes][column_area], where column_area holds the non-sort-key columns in
// schema order (fixed-width inline, strings via offset/length indirection
// into a trailing payload region).
package row

import (
	"encoding/binary"
	"fmt"

	"github.com/arcanedb/arcanedb/pkg/codec"
	"github.com/arcanedb/arcanedb/pkg/schema"
)

const headerSize = 4 // total_len u16 + sort_key_len u16

// Row is a serialized row: a self-describing byte sequence per spec §3.
// A Row's bytes are typically a slice into a DeltaNode's shared buffer and
// must not be mutated in place.
type Row []byte

// Serialize encodes values (one per schema column, in schema order) into a
// full Row: header, sort-key prefix, fixed area, string payloads.
func Serialize(values []codec.Value, sch *schema.Schema) (Row, error) {
	if len(values) != sch.ColumnCount() {
		return nil, fmt.Errorf("row: got %d values, schema has %d columns", len(values), sch.ColumnCount())
	}

	sortKey, err := codec.EncodeSortKey(values[:sch.SortKeyCount()])
	if err != nil {
		return nil, fmt.Errorf("row: encoding sort key: %w", err)
	}

	fixedArea := make([]byte, sch.FixedAreaSize())

	var payload []byte

	for i := sch.SortKeyCount(); i < sch.ColumnCount(); i++ {
		col := sch.Column(i)
		idx := i - sch.SortKeyCount()
		offset := sch.NonSortOffset(idx)

		v := values[i]
		if v.Kind != col.Type {
			return nil, fmt.Errorf("row: column %q expects %v, got %v", col.Name, col.Type, v.Kind)
		}

		if width, fixed := col.Type.FixedWidth(); fixed {
			writeFixed(fixedArea[offset:offset+width], v)

			continue
		}

		payloadOffset := len(payload)
		s := []byte(v.S)
		payload = append(payload, s...)

		binary.LittleEndian.PutUint16(fixedArea[offset:], uint16(payloadOffset))
		binary.LittleEndian.PutUint16(fixedArea[offset+2:], uint16(len(s)))
	}

	totalLen := headerSize + len(sortKey) + len(fixedArea) + len(payload)
	if totalLen > int(^uint16(0)) {
		return nil, fmt.Errorf("row: serialized length %d exceeds u16 range", totalLen)
	}

	out := make([]byte, 0, totalLen)
	out = binary.LittleEndian.AppendUint16(out, uint16(totalLen))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(sortKey)))
	out = append(out, sortKey...)
	out = append(out, fixedArea...)
	out = append(out, payload...)

	return Row(out), nil
}

// SerializeSortKeyOnly encodes just the header + sort-key prefix, used by
// DeltaNode tombstone entries (spec §4.2 new_single_delete).
func SerializeSortKeyOnly(sortKeyValues []codec.Value) (Row, error) {
	sortKey, err := codec.EncodeSortKey(sortKeyValues)
	if err != nil {
		return nil, fmt.Errorf("row: encoding sort key: %w", err)
	}

	return FromEncodedSortKey(sortKey), nil
}

// FromEncodedSortKey wraps an already order-preserving-encoded sort key into
// a header-only Row, without re-encoding the underlying values. Used when the
// caller already holds encoded sort-key bytes, e.g. a DeltaNode tombstone
// built from an existing row's SortKeyBytes().
func FromEncodedSortKey(sortKey []byte) Row {
	totalLen := headerSize + len(sortKey)

	out := make([]byte, 0, totalLen)
	out = binary.LittleEndian.AppendUint16(out, uint16(totalLen))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(sortKey)))
	out = append(out, sortKey...)

	return Row(out)
}

func writeFixed(dst []byte, v codec.Value) {
	switch v.Kind {
	case codec.KindInt8:
		dst[0] = byte(int8(v.I))
	case codec.KindInt16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v.I)))
	case codec.KindInt32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v.I)))
	case codec.KindInt64:
		binary.LittleEndian.PutUint64(dst, uint64(v.I))
	case codec.KindFloat32:
		binary.LittleEndian.PutUint32(dst, uint32FromFloat32(float32(v.F)))
	case codec.KindFloat64:
		binary.LittleEndian.PutUint64(dst, uint64FromFloat64(v.F))
	case codec.KindBool:
		if v.B {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	}
}

// TotalLen returns the row's declared total length (header field).
func (r Row) TotalLen() int {
	return int(binary.LittleEndian.Uint16(r))
}

// SortKeyLen returns the row's declared sort-key length (header field).
func (r Row) SortKeyLen() int {
	return int(binary.LittleEndian.Uint16(r[2:]))
}

// SortKeyBytes returns the row's order-preserving encoded sort-key prefix.
func (r Row) SortKeyBytes() codec.SortKeyRef {
	n := r.SortKeyLen()

	return codec.SortKeyRef(r[headerSize : headerSize+n])
}

// Validate checks the row's header invariant: total_len must equal the
// entire row's length (spec §3).
func (r Row) Validate() error {
	if len(r) < headerSize {
		return fmt.Errorf("row: %d bytes, shorter than header", len(r))
	}

	if r.TotalLen() != len(r) {
		return fmt.Errorf("row: total_len %d != actual length %d", r.TotalLen(), len(r))
	}

	if headerSize+r.SortKeyLen() > len(r) {
		return fmt.Errorf("row: sort_key_len %d overruns row of length %d", r.SortKeyLen(), len(r))
	}

	return nil
}

// GetProp decodes the value of the column at the given schema index.
//
// Sort-key columns decode via the order-preserving reader (the whole
// sort-key prefix is decoded once and indexed); non-sort columns read
// inline from the fixed area or follow the (offset, length) string
// indirection, per spec §4.1.
func (r Row) GetProp(sch *schema.Schema, columnIndex int) (codec.Value, error) {
	if columnIndex < 0 || columnIndex >= sch.ColumnCount() {
		return codec.Value{}, fmt.Errorf("row: column index %d out of range", columnIndex)
	}

	if sch.IsSortKeyColumn(columnIndex) {
		values, err := codec.DecodeSortKey(r.SortKeyBytes())
		if err != nil {
			return codec.Value{}, fmt.Errorf("row: decoding sort key: %w", err)
		}

		if columnIndex >= len(values) {
			return codec.Value{}, fmt.Errorf("row: sort key has %d values, want index %d", len(values), columnIndex)
		}

		return values[columnIndex], nil
	}

	col := sch.Column(columnIndex)
	idx := columnIndex - sch.SortKeyCount()
	offset := headerSize + r.SortKeyLen() + sch.NonSortOffset(idx)

	if width, fixed := col.Type.FixedWidth(); fixed {
		if offset+width > len(r) {
			return codec.Value{}, fmt.Errorf("row: column %q overruns row", col.Name)
		}

		return readFixed(col.Type, r[offset:offset+width]), nil
	}

	if offset+4 > len(r) {
		return codec.Value{}, fmt.Errorf("row: column %q indirection overruns row", col.Name)
	}

	payloadOffset := int(binary.LittleEndian.Uint16(r[offset:]))
	payloadLen := int(binary.LittleEndian.Uint16(r[offset+2:]))

	fixedEnd := headerSize + r.SortKeyLen() + sch.FixedAreaSize()
	start := fixedEnd + payloadOffset
	end := start + payloadLen

	if start < fixedEnd || end > len(r) {
		return codec.Value{}, fmt.Errorf("row: column %q string payload out of range", col.Name)
	}

	return codec.String(string(r[start:end])), nil
}

func readFixed(kind codec.Kind, src []byte) codec.Value {
	switch kind {
	case codec.KindInt8:
		return codec.Int8(int8(src[0]))
	case codec.KindInt16:
		return codec.Int16(int16(binary.LittleEndian.Uint16(src)))
	case codec.KindInt32:
		return codec.Int32(int32(binary.LittleEndian.Uint32(src)))
	case codec.KindInt64:
		return codec.Int64(int64(binary.LittleEndian.Uint64(src)))
	case codec.KindFloat32:
		return codec.Float32(float32FromUint32(binary.LittleEndian.Uint32(src)))
	case codec.KindFloat64:
		return codec.Float64(float64FromUint64(binary.LittleEndian.Uint64(src)))
	case codec.KindBool:
		return codec.Bool(src[0] != 0)
	default:
		return codec.Value{}
	}
}
