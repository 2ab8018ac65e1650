package wal_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/fs"
	"github.com/arcanedb/arcanedb/pkg/wal"
)

func Test_Append_ReturnsMonotonicallyIncreasingLsns_When_CalledSequentially(t *testing.T) {
	t.Parallel()

	l := wal.New(wal.Options{SegmentCount: 2, SegmentSize: 256})
	defer l.Close()

	lsn1, err := l.Append([]byte("a"))
	require.NoError(t, err)

	lsn2, err := l.Append([]byte("bb"))
	require.NoError(t, err)

	require.Less(t, lsn1, lsn2)
}

func Test_Append_RejectsRecord_When_LargerThanSegmentSize(t *testing.T) {
	t.Parallel()

	l := wal.New(wal.Options{SegmentCount: 2, SegmentSize: 16})
	defer l.Close()

	_, err := l.Append(make([]byte, 64))
	require.Error(t, err)
}

func Test_Append_SealsAndRotatesSegments_When_CalledConcurrentlyPastOneSegment(t *testing.T) {
	t.Parallel()

	l := wal.New(wal.Options{SegmentCount: 4, SegmentSize: 128})
	defer l.Close()

	const n = 500

	lsns := make([]uint64, n)

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			lsn, err := l.Append([]byte("x"))
			require.NoError(t, err)

			lsns[i] = lsn
		}(i)
	}

	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, lsn := range lsns {
		require.False(t, seen[lsn], "duplicate lsn %d", lsn)
		seen[lsn] = true
	}
}

func Test_GetPersistentLsn_AdvancesPastSealedSegment_When_ShouldSyncIsFalse(t *testing.T) {
	t.Parallel()

	l := wal.New(wal.Options{SegmentCount: 2, SegmentSize: 32, ShouldSync: false})
	defer l.Close()

	require.Equal(t, uint64(0), l.GetPersistentLsn())

	// Force a seal by overflowing the first segment.
	for i := 0; i < 4; i++ {
		_, err := l.Append([]byte("1234")) // 4 + 10-byte header = 14 bytes each
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return l.GetPersistentLsn() > 0
	}, time.Second, time.Millisecond)
}

func Test_ReadAll_DecodesPersistedRecords_When_ShouldSyncWritesSegmentFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	l := wal.New(wal.Options{SegmentCount: 2, SegmentSize: 32, ShouldSync: true, Dir: dir})

	var lsns []uint64

	for i := 0; i < 6; i++ {
		lsn, err := l.Append([]byte("ab"))
		require.NoError(t, err)

		lsns = append(lsns, lsn)
	}

	l.Close()

	records, err := wal.ReadAll(fs.NewReal(), dir)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	for _, r := range records {
		require.Equal(t, []byte("ab"), r.Payload)
	}
}
