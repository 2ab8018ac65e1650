package row_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/codec"
	"github.com/arcanedb/arcanedb/pkg/row"
	"github.com/arcanedb/arcanedb/pkg/schema"
)

func mustSchema(t *testing.T) *schema.Schema {
	t.Helper()

	sch, err := schema.New([]schema.Column{
		{Name: "id", Type: codec.KindInt64},
		{Name: "age", Type: codec.KindInt32},
		{Name: "score", Type: codec.KindFloat64},
		{Name: "name", Type: codec.KindString},
		{Name: "active", Type: codec.KindBool},
	}, 1)
	require.NoError(t, err)

	return sch
}

func Test_Serialize_RoundTrips_When_GetPropReadsEveryColumn(t *testing.T) {
	t.Parallel()

	sch := mustSchema(t)

	values := []codec.Value{
		codec.Int64(42),
		codec.Int32(-7),
		codec.Float64(3.5),
		codec.String("hello world"),
		codec.Bool(true),
	}

	r, err := row.Serialize(values, sch)
	require.NoError(t, err)
	require.NoError(t, r.Validate())
	require.Equal(t, len(r), r.TotalLen())

	for i, want := range values {
		got, err := r.GetProp(sch, i)
		require.NoError(t, err)
		require.Equal(t, want, got, "column %d (%s)", i, sch.Column(i).Name)
	}
}

func Test_Serialize_RoundTrips_When_StringColumnIsEmpty(t *testing.T) {
	t.Parallel()

	sch := mustSchema(t)

	values := []codec.Value{
		codec.Int64(1),
		codec.Int32(0),
		codec.Float64(0),
		codec.String(""),
		codec.Bool(false),
	}

	r, err := row.Serialize(values, sch)
	require.NoError(t, err)

	got, err := r.GetProp(sch, 3)
	require.NoError(t, err)
	require.Equal(t, codec.String(""), got)
}

func Test_Serialize_Rejects_When_ValueCountMismatchesSchema(t *testing.T) {
	t.Parallel()

	sch := mustSchema(t)

	_, err := row.Serialize([]codec.Value{codec.Int64(1)}, sch)
	require.Error(t, err)
}

func Test_Serialize_Rejects_When_ColumnTypeMismatches(t *testing.T) {
	t.Parallel()

	sch := mustSchema(t)

	values := []codec.Value{
		codec.Int64(1),
		codec.String("wrong type for age"),
		codec.Float64(0),
		codec.String(""),
		codec.Bool(false),
	}

	_, err := row.Serialize(values, sch)
	require.Error(t, err)
}

func Test_SerializeSortKeyOnly_ProducesRowWithMatchingSortKeyBytes(t *testing.T) {
	t.Parallel()

	sch := mustSchema(t)

	full, err := row.Serialize([]codec.Value{
		codec.Int64(99), codec.Int32(1), codec.Float64(1), codec.String("x"), codec.Bool(true),
	}, sch)
	require.NoError(t, err)

	tombstone, err := row.SerializeSortKeyOnly([]codec.Value{codec.Int64(99)})
	require.NoError(t, err)

	require.NoError(t, tombstone.Validate())
	require.Equal(t, full.SortKeyBytes(), tombstone.SortKeyBytes())
}

func Test_Validate_Rejects_When_TotalLenFieldIsWrong(t *testing.T) {
	t.Parallel()

	sch := mustSchema(t)

	r, err := row.Serialize([]codec.Value{
		codec.Int64(1), codec.Int32(1), codec.Float64(1), codec.String("a"), codec.Bool(true),
	}, sch)
	require.NoError(t, err)

	corrupt := append(row.Row(nil), r...)
	corrupt = append(corrupt, 0xFF) // extend without updating the header's total_len

	require.Error(t, corrupt.Validate())
}
