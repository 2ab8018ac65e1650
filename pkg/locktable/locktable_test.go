package locktable_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/locktable"
)

func Test_Lock_GrantsImmediately_When_KeyIsUnheld(t *testing.T) {
	t.Parallel()

	lt := locktable.New(locktable.Options{})
	key := locktable.Key([]byte("p1"), []byte("sk1"))

	require.Equal(t, locktable.StatusOK, lt.Lock(key, 1))
}

func Test_Lock_IsReentrant_When_SameTxnRelocks(t *testing.T) {
	t.Parallel()

	lt := locktable.New(locktable.Options{})
	key := locktable.Key([]byte("p1"), []byte("sk1"))

	require.Equal(t, locktable.StatusOK, lt.Lock(key, 1))
	require.Equal(t, locktable.StatusOK, lt.Lock(key, 1))
}

func Test_Lock_BlocksAnotherTxn_Then_GrantsAfterUnlock(t *testing.T) {
	t.Parallel()

	lt := locktable.New(locktable.Options{Timeout: time.Second})
	key := locktable.Key([]byte("p1"), []byte("sk1"))

	require.Equal(t, locktable.StatusOK, lt.Lock(key, 1))

	var wg sync.WaitGroup

	wg.Add(1)

	var got locktable.Status

	go func() {
		defer wg.Done()

		got = lt.Lock(key, 2)
	}()

	time.Sleep(20 * time.Millisecond)
	lt.Unlock(key, 1)

	wg.Wait()

	require.Equal(t, locktable.StatusOK, got)
}

func Test_Lock_TimesOut_When_HeldPastDeadline(t *testing.T) {
	t.Parallel()

	lt := locktable.New(locktable.Options{Timeout: 20 * time.Millisecond})
	key := locktable.Key([]byte("p1"), []byte("sk1"))

	require.Equal(t, locktable.StatusOK, lt.Lock(key, 1))
	require.Equal(t, locktable.StatusTimeout, lt.Lock(key, 2))

	// The original owner can still unlock cleanly afterwards.
	lt.Unlock(key, 1)
}

func Test_Unlock_Panics_When_CalledByNonOwner(t *testing.T) {
	t.Parallel()

	lt := locktable.New(locktable.Options{})
	key := locktable.Key([]byte("p1"), []byte("sk1"))

	require.Equal(t, locktable.StatusOK, lt.Lock(key, 1))
	require.Panics(t, func() { lt.Unlock(key, 2) })
}

func Test_Lock_OnlyOneWaiterWins_When_MultipleContendForSameKey(t *testing.T) {
	t.Parallel()

	lt := locktable.New(locktable.Options{Timeout: time.Second})
	key := locktable.Key([]byte("p1"), []byte("sk1"))

	require.Equal(t, locktable.StatusOK, lt.Lock(key, 1))

	const waiters = 5

	results := make([]locktable.Status, waiters)

	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			results[i] = lt.Lock(key, uint64(i+2))
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	lt.Unlock(key, 1)

	wg.Wait()

	oks := 0
	for _, r := range results {
		if r == locktable.StatusOK {
			oks++
		}
	}

	// Exactly one waiter is granted ownership; it never unlocks, so the
	// rest time out after the 1s timeout.
	require.Equal(t, 1, oks)
}

func Test_Key_IsDistinctAcrossPageAndSortKeyBoundaries(t *testing.T) {
	t.Parallel()

	k1 := locktable.Key([]byte("ab"), []byte("c"))
	k2 := locktable.Key([]byte("a"), []byte("bc"))

	require.NotEqual(t, k1, k2)
}
