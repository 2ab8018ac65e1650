package txn_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/txn"
)

func Test_2PL_GetRow_ReturnsNotFound_When_PageEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tx := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadOnly, txn.Options{})

	_, err := tx.GetRow([]byte("p1"), idSortKey(t, 1))
	require.ErrorIs(t, err, txn.ErrNotFound)
	require.NoError(t, tx.Commit())
}

func Test_2PL_SetRow_Then_GetRow_SeesOwnWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sch := idSchema(t)

	tx := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadWrite, txn.Options{EnableWAL: true})

	r := idRow(t, sch, 1, "a")
	require.NoError(t, tx.SetRow([]byte("p1"), r))

	got, err := tx.GetRow([]byte("p1"), r.SortKeyBytes())
	require.NoError(t, err)
	require.Equal(t, r, got)

	require.NoError(t, tx.Commit())
}

func Test_2PL_SetRow_ReturnsReadOnly_When_TxnIsReadOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sch := idSchema(t)
	tx := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadOnly, txn.Options{})

	err := tx.SetRow([]byte("p1"), idRow(t, sch, 1, "a"))
	require.ErrorIs(t, err, txn.ErrReadOnly)
}

func Test_2PL_GetRow_SeesCommittedWrite_After_PriorTxnCommits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sch := idSchema(t)

	writer := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadWrite, txn.Options{})
	r := idRow(t, sch, 1, "a")
	require.NoError(t, writer.SetRow([]byte("p1"), r))
	require.NoError(t, writer.Commit())

	reader := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadOnly, txn.Options{})
	got, err := reader.GetRow([]byte("p1"), r.SortKeyBytes())
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func Test_2PL_SecondWriter_BlocksUntilFirstCommits_Then_Proceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sch := idSchema(t)

	first := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadWrite, txn.Options{})
	key := idSortKey(t, 1)
	require.NoError(t, first.SetRow([]byte("p1"), idRow(t, sch, 1, "a")))

	var wg sync.WaitGroup
	wg.Add(1)

	secondDone := make(chan struct{})

	go func() {
		defer wg.Done()

		second := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadWrite, txn.Options{})
		require.NoError(t, second.SetRow([]byte("p1"), idRow(t, sch, 1, "b")))
		require.NoError(t, second.Commit())

		close(secondDone)
	}()

	select {
	case <-secondDone:
		t.Fatal("second writer committed before first released its lock")
	default:
	}

	require.NoError(t, first.Commit())

	wg.Wait()

	reader := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadOnly, txn.Options{})
	got, err := reader.GetRow([]byte("p1"), key)
	require.NoError(t, err)

	sch2 := idSchema(t)
	require.Equal(t, idRow(t, sch2, 1, "b"), got)
}

func Test_2PL_Commit_ReturnsErrDone_When_CalledTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tx := txn.NewTxn2PL(h.mgr, h.pool, h.locks, h.log, txn.ModeReadOnly, txn.Options{})

	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), txn.ErrDone)
}
