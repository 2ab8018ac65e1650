// Package schema describes column metadata for ArcaneDB rows: column
// id/index/name/type mapping and the cached offset table the row codec uses
// to lay out the fixed-width area of a serialized row (spec §3, §4.1).
package schema

import (
	"fmt"

	"github.com/arcanedb/arcanedb/pkg/codec"
)

// Column describes one column of a [Schema].
type Column struct {
	// Name is the column's human-readable name.
	Name string
	// Type is the column's value kind.
	Type codec.Kind
}

// stringIndirectionWidth is the byte width of the (offset u16, length u16)
// pair stored in the fixed area for variable-length string columns.
const stringIndirectionWidth = 4

// Schema is immutable after construction: column id -> index, index ->
// (name, type), and cached byte offsets into a row's fixed-width area.
//
// The first SortKeyCount columns form the row's sort-key prefix and are
// encoded exclusively via the order-preserving codec; they have no natural
// little-endian representation in the fixed area. Columns past that point
// are packed into the fixed area in schema order: fixed-width types inline,
// strings as a 4-byte (offset, length) indirection pair into the trailing
// string-payload region.
type Schema struct {
	columns      []Column
	sortKeyCount int

	// nonSortOffsets[i] is the byte offset within the fixed area of the
	// (i+sortKeyCount)'th column, i.e. the i'th non-sort-key column.
	nonSortOffsets []int
	fixedAreaSize  int
}

// New constructs a [Schema]. sortKeyCount must be in [0, len(columns)].
func New(columns []Column, sortKeyCount int) (*Schema, error) {
	if sortKeyCount < 0 || sortKeyCount > len(columns) {
		return nil, fmt.Errorf("schema: sortKeyCount %d out of range [0,%d]", sortKeyCount, len(columns))
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("schema: at least one column is required")
	}

	seen := make(map[string]struct{}, len(columns))

	for _, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("schema: column name must not be empty")
		}

		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate column name %q", c.Name)
		}

		seen[c.Name] = struct{}{}
	}

	nonSort := columns[sortKeyCount:]
	offsets := make([]int, len(nonSort))
	off := 0

	for i, c := range nonSort {
		offsets[i] = off

		if width, fixed := c.Type.FixedWidth(); fixed {
			off += width
		} else {
			off += stringIndirectionWidth
		}
	}

	cp := make([]Column, len(columns))
	copy(cp, columns)

	return &Schema{
		columns:        cp,
		sortKeyCount:   sortKeyCount,
		nonSortOffsets: offsets,
		fixedAreaSize:  off,
	}, nil
}

// ColumnCount returns the total number of columns.
func (s *Schema) ColumnCount() int { return len(s.columns) }

// SortKeyCount returns the number of leading sort-key columns (spec's K).
func (s *Schema) SortKeyCount() int { return s.sortKeyCount }

// Column returns the column at the given index (0-based, schema order).
func (s *Schema) Column(index int) Column { return s.columns[index] }

// ColumnIndex returns the index of the column with the given name, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.columns {
		if c.Name == name {
			return i
		}
	}

	return -1
}

// FixedAreaSize returns the total byte size of the non-sort-key fixed area.
func (s *Schema) FixedAreaSize() int { return s.fixedAreaSize }

// NonSortOffset returns the byte offset within the fixed area of the i'th
// non-sort-key column (0-based among non-sort-key columns).
func (s *Schema) NonSortOffset(i int) int { return s.nonSortOffsets[i] }

// IsSortKeyColumn reports whether the column at the given schema index is
// part of the sort-key prefix.
func (s *Schema) IsSortKeyColumn(index int) bool { return index < s.sortKeyCount }

// Fingerprint is a simple FNV-1a structural checksum of the column names,
// types and sort-key count; it is not cryptographic.
func (s *Schema) Fingerprint() uint32 {
	var h uint32 = 2166136261

	mix := func(b byte) {
		h ^= uint32(b)
		h *= 16777619
	}

	for _, c := range s.columns {
		for i := 0; i < len(c.Name); i++ {
			mix(c.Name[i])
		}

		mix(byte(c.Type))
	}

	mix(byte(s.sortKeyCount))

	return h
}
