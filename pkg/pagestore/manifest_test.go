package pagestore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/pagestore"
)

func Test_LoadManifest_ReturnsZeroValue_When_FileAbsent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "MANIFEST")

	m, err := pagestore.LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, pagestore.Manifest{}, m)
}

func Test_Manifest_Save_Then_LoadManifest_RoundTrips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "MANIFEST")

	want := pagestore.Manifest{SchemaFingerprint: 0xdeadbeef, NextPageID: 42}
	require.NoError(t, want.Save(path))

	got, err := pagestore.LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func Test_UpdateManifest_AllocatesIncreasingPageIDs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "MANIFEST")

	var allocated []uint64

	for i := 0; i < 3; i++ {
		err := pagestore.UpdateManifest(path, func(cur pagestore.Manifest) (pagestore.Manifest, bool, error) {
			allocated = append(allocated, cur.NextPageID)
			cur.NextPageID++

			return cur, true, nil
		})
		require.NoError(t, err)
	}

	require.Equal(t, []uint64{0, 1, 2}, allocated)

	final, err := pagestore.LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, uint64(3), final.NextPageID)
}

func Test_UpdateManifest_LeavesFileUntouched_When_FnDeclinesToWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "MANIFEST")

	seed := pagestore.Manifest{NextPageID: 7}
	require.NoError(t, seed.Save(path))

	err := pagestore.UpdateManifest(path, func(cur pagestore.Manifest) (pagestore.Manifest, bool, error) {
		return pagestore.Manifest{NextPageID: 999}, false, nil
	})
	require.NoError(t, err)

	got, err := pagestore.LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, seed, got)
}
