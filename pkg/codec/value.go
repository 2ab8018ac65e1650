// Package codec implements ArcaneDB's typed values and the
// order-preserving sort-key encoding described in spec §4.1; row
// serialization built on it lives in pkg/row.
//
// Row bytes (pkg/row) are self-describing ([total_len u16][sort_key_len u16][sort_key
// bytes][column_area]); the sort-key prefix is encoded so that byte-wise
// comparison of the encoded bytes matches the natural ordering of the
// underlying typed tuple, even across heterogeneous column types.
package codec

import "fmt"

// Kind identifies the Go-level type carried by a [Value].
type Kind uint8

const (
	KindInt8 Kind = iota
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindBool
	KindString
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FixedWidth returns the natural little-endian byte width for fixed-width
// kinds. Strings are not fixed-width; ok is false for them.
func (k Kind) FixedWidth() (width int, ok bool) {
	switch k {
	case KindInt8, KindBool:
		return 1, true
	case KindInt16:
		return 2, true
	case KindInt32, KindFloat32:
		return 4, true
	case KindInt64, KindFloat64:
		return 8, true
	case KindString:
		return 0, false
	default:
		return 0, false
	}
}

// Value is a typed column value. Only the field matching Kind is meaningful.
//
// Integers of all widths are carried in I (sign-extended to int64); floats
// of both widths are carried in F (float32 values are narrowed on encode).
type Value struct {
	Kind Kind
	I    int64
	F    float64
	B    bool
	S    string
}

// Int8 constructs an int8 [Value].
func Int8(v int8) Value { return Value{Kind: KindInt8, I: int64(v)} }

// Int16 constructs an int16 [Value].
func Int16(v int16) Value { return Value{Kind: KindInt16, I: int64(v)} }

// Int32 constructs an int32 [Value].
func Int32(v int32) Value { return Value{Kind: KindInt32, I: int64(v)} }

// Int64 constructs an int64 [Value].
func Int64(v int64) Value { return Value{Kind: KindInt64, I: v} }

// Float32 constructs a float32 [Value].
func Float32(v float32) Value { return Value{Kind: KindFloat32, F: float64(v)} }

// Float64 constructs a float64 [Value].
func Float64(v float64) Value { return Value{Kind: KindFloat64, F: v} }

// Bool constructs a bool [Value].
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// String constructs a string [Value].
func String(v string) Value { return Value{Kind: KindString, S: v} }
