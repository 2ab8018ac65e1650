package page_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/codec"
	"github.com/arcanedb/arcanedb/pkg/page"
	"github.com/arcanedb/arcanedb/pkg/row"
	"github.com/arcanedb/arcanedb/pkg/schema"
)

func mustRow(t *testing.T, sch *schema.Schema, id int64, name string) row.Row {
	t.Helper()

	r, err := row.Serialize([]codec.Value{codec.Int64(id), codec.String(name)}, sch)
	require.NoError(t, err)

	return r
}

func idSchema(t *testing.T) *schema.Schema {
	t.Helper()

	sch, err := schema.New([]schema.Column{
		{Name: "id", Type: codec.KindInt64},
		{Name: "name", Type: codec.KindString},
	}, 1)
	require.NoError(t, err)

	return sch
}

func Test_PointLookup_ReturnsFound_When_VersionVisibleAtReadTs(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	r := mustRow(t, sch, 1, "a")
	n := page.NewSingleSet(r, 10)

	result, got := n.PointLookup(r.SortKeyBytes(), 10)
	require.Equal(t, page.Found, result)
	require.Equal(t, r, got)
}

func Test_PointLookup_ReturnsNotFound_When_SortKeyAbsent(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	r := mustRow(t, sch, 1, "a")
	n := page.NewSingleSet(r, 10)

	other := mustRow(t, sch, 2, "b")

	result, _ := n.PointLookup(other.SortKeyBytes(), 10)
	require.Equal(t, page.NotFound, result)
}

func Test_PointLookup_ReturnsDeleted_When_TombstoneVisible(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	r := mustRow(t, sch, 1, "a")
	n := page.NewSingleDelete(r.SortKeyBytes(), 10)

	result, got := n.PointLookup(r.SortKeyBytes(), 10)
	require.Equal(t, page.Deleted, result)
	require.Nil(t, got)
}

func Test_PointLookup_ReturnsNotFound_When_OnlyVersionIsAboveReadTs(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	r := mustRow(t, sch, 1, "a")
	n := page.NewSingleSet(r, 100)

	result, _ := n.PointLookup(r.SortKeyBytes(), 50)
	require.Equal(t, page.NotFound, result)
}

func Test_Compact_OrdersEntriesBySortKeyAscending_When_ChainInsertedOutOfOrder(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r3 := mustRow(t, sch, 3, "c")
	r1 := mustRow(t, sch, 1, "a")
	r2 := mustRow(t, sch, 2, "b")

	p.SetRow(r3, 1, 1, page.WriteOpts{})
	p.SetRow(r1, 2, 2, page.WriteOpts{})
	p.SetRow(r2, 3, 3, page.WriteOpts{ForceCompaction: true})

	var sortKeys [][]byte

	p.RangeFilter(page.ScanSorted, page.MaxTxnTs(), func([]byte) bool { return true }, func(r row.Row, deleted bool) {
		sortKeys = append(sortKeys, r.SortKeyBytes())
	})

	require.Len(t, sortKeys, 3)
	require.Less(t, string(sortKeys[0]), string(sortKeys[1]))
	require.Less(t, string(sortKeys[1]), string(sortKeys[2]))
	require.Equal(t, 1, p.ChainDepth())
}
