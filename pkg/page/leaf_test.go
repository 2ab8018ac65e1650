package page_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/page"
	"github.com/arcanedb/arcanedb/pkg/row"
)

func Test_GetRow_ReturnsNotFound_When_PageIsEmpty(t *testing.T) {
	t.Parallel()

	p := page.NewLeafPage([]byte("p"))

	result, _ := p.GetRow([]byte("anything"), page.MaxTxnTs(), page.ReadOpts{})
	require.Equal(t, page.ReadNotFound, result)
}

func Test_SetRow_Then_GetRow_ReturnsLatestValue_When_OverwrittenTwice(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r := mustRow(t, sch, 1, "a")
	p.SetRow(r, 10, 1, page.WriteOpts{})

	r2 := mustRow(t, sch, 1, "b")
	p.SetRow(r2, 20, 2, page.WriteOpts{})

	result, got := p.GetRow(r.SortKeyBytes(), page.MaxTxnTs(), page.ReadOpts{})
	require.Equal(t, page.ReadFound, result)
	require.Equal(t, r2, got)

	// A reader with a snapshot taken before the second write observes the
	// first value (spec §8 scenario 2).
	result, got = p.GetRow(r.SortKeyBytes(), 10, page.ReadOpts{})
	require.Equal(t, page.ReadFound, result)
	require.Equal(t, r, got)
}

func Test_DeleteRow_Then_GetRow_ReturnsDeleted_When_QueriedAtOrAfterDeleteTs(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r := mustRow(t, sch, 1, "a")
	p.SetRow(r, 10, 1, page.WriteOpts{})
	p.DeleteRow(r.SortKeyBytes(), 20, 2, page.WriteOpts{})

	result, _ := p.GetRow(r.SortKeyBytes(), page.MaxTxnTs(), page.ReadOpts{})
	require.Equal(t, page.ReadDeleted, result)

	result, got := p.GetRow(r.SortKeyBytes(), 15, page.ReadOpts{})
	require.Equal(t, page.ReadFound, result)
	require.Equal(t, r, got)
}

func Test_ChainDepth_DoesNotCompact_When_ExactlyAtLimit_ButCompactsOnePast(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))
	p.SetChainLimit(4)

	for i := int64(0); i < 4; i++ {
		r := mustRow(t, sch, i, "v")
		p.SetRow(r, page.TxnTs(i+1), uint64(i+1), page.WriteOpts{})
	}

	require.Equal(t, 4, p.ChainDepth())

	r := mustRow(t, sch, 4, "v")
	p.SetRow(r, 5, 5, page.WriteOpts{})

	require.Equal(t, 1, p.ChainDepth(), "chain_depth > limit must trigger compaction into a single node")
}

func Test_SetRow_AllRowsReadable_When_100RowsInsertedWithoutForcingCompaction(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	var rows []row.Row

	for i := int64(0); i < 100; i++ {
		r := mustRow(t, sch, i, "v")
		rows = append(rows, r)
		p.SetRow(r, page.TxnTs(i+1), uint64(i+1), page.WriteOpts{})
	}

	require.LessOrEqual(t, p.ChainDepth(), page.DefaultChainLength)

	for _, r := range rows {
		result, got := p.GetRow(r.SortKeyBytes(), page.MaxTxnTs(), page.ReadOpts{})
		require.Equal(t, page.ReadFound, result)
		require.Equal(t, r, got)
	}
}

func Test_GetRow_ReturnsOwnIntent_When_OwnerTsMatchesLockedEntry(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r := mustRow(t, sch, 1, "a")
	readTs := page.TxnTs(100)
	p.SetRow(r, page.MarkLocked(readTs), 1, page.WriteOpts{})

	result, got := p.GetRow(r.SortKeyBytes(), readTs, page.ReadOpts{OwnerTs: readTs})
	require.Equal(t, page.ReadFound, result)
	require.Equal(t, r, got)
}

func Test_GetRow_ReturnsConflict_When_LockedByAnotherTxnAndCheckLockEnabled(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r := mustRow(t, sch, 1, "a")
	p.SetRow(r, page.MarkLocked(100), 1, page.WriteOpts{})

	result, _ := p.GetRow(r.SortKeyBytes(), page.MaxTxnTs(), page.ReadOpts{OwnerTs: 999, CheckLock: true})
	require.Equal(t, page.ReadConflict, result)
}

func Test_GetRow_FallsThroughToPreviousVersion_When_LockedByAnotherTxnAndCheckLockDisabled(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r := mustRow(t, sch, 1, "a")
	p.SetRow(r, 10, 1, page.WriteOpts{})

	r2 := mustRow(t, sch, 1, "b")
	p.SetRow(r2, page.MarkLocked(50), 2, page.WriteOpts{})

	result, got := p.GetRow(r.SortKeyBytes(), page.MaxTxnTs(), page.ReadOpts{OwnerTs: 999, CheckLock: false})
	require.Equal(t, page.ReadFound, result)
	require.Equal(t, r, got)
}

func Test_SetTs_PatchesLockedEntryToCommitTs_When_CalledAfterIntentWrite(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r := mustRow(t, sch, 1, "a")
	readTs := page.TxnTs(10)
	p.SetRow(r, page.MarkLocked(readTs), 1, page.WriteOpts{})

	ok := p.SetTs(r.SortKeyBytes(), 20, 2)
	require.True(t, ok)

	result, got := p.GetRow(r.SortKeyBytes(), 20, page.ReadOpts{})
	require.Equal(t, page.ReadFound, result)
	require.Equal(t, r, got)
}

func Test_SetTs_ReturnsFalse_When_SortKeyNotPresent(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r := mustRow(t, sch, 1, "a")
	ok := p.SetTs(r.SortKeyBytes(), 20, 2)
	require.False(t, ok)
}

func Test_GetPageSnapshot_RoundTrips_When_InstalledOnAFreshPage(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r1 := mustRow(t, sch, 1, "a")
	r2 := mustRow(t, sch, 2, "b")
	p.SetRow(r1, 10, 1, page.WriteOpts{})
	p.SetRow(r2, 20, 2, page.WriteOpts{})

	snap := p.GetPageSnapshot()
	blob := snap.Serialize()

	fresh := page.NewLeafPage([]byte("p"))
	err := fresh.InstallSnapshot(blob, snap.LSN)
	require.NoError(t, err)
	require.Equal(t, snap.LSN, fresh.LSN())
	require.False(t, fresh.Dirty())

	for _, r := range []row.Row{r1, r2} {
		result, got := fresh.GetRow(r.SortKeyBytes(), page.MaxTxnTs(), page.ReadOpts{})
		require.Equal(t, page.ReadFound, result)

		if diff := cmp.Diff(r, got); diff != "" {
			t.Errorf("row mismatch after snapshot round-trip (-want +got):\n%s", diff)
		}
	}
}

func Test_Compact_RemovesAbortedVersions_When_OnlyAbortedVersionsExistForAKey(t *testing.T) {
	t.Parallel()

	sch := idSchema(t)
	p := page.NewLeafPage([]byte("p"))

	r := mustRow(t, sch, 1, "a")
	p.SetRow(r, page.MarkLocked(10), 1, page.WriteOpts{})
	p.SetTs(r.SortKeyBytes(), page.AbortedTxnTs(), 2)

	p.SetRow(r, page.MarkLocked(10), 3, page.WriteOpts{ForceCompaction: true})
	p.SetTs(r.SortKeyBytes(), page.AbortedTxnTs(), 4)

	var found bool

	p.RangeFilter(page.ScanSorted, page.MaxTxnTs(), func([]byte) bool { return true }, func(row.Row, bool) {
		found = true
	})

	require.False(t, found, "compacting a chain with only aborted versions must yield an empty node")
}
