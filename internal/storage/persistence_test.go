package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	want := testDoc{Name: "alpha", Count: 3}
	require.NoError(t, store.Save("doc", want))

	var got testDoc
	ok, err := store.Load("doc", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestStore_LoadMissingKey(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	var got testDoc
	ok, err := store.Load("nope", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_SaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	store, err := New(home)
	require.NoError(t, err)
	require.NoError(t, store.Save("doc", testDoc{Name: "beta"}))

	entries, err := os.ReadDir(filepath.Join(home, "state"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "doc.json", entries[0].Name())
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save("doc", testDoc{}))
	require.NoError(t, store.Delete("doc"))
	require.NoError(t, store.Delete("doc"))

	var got testDoc
	ok, err := store.Load("doc", &got)
	require.NoError(t, err)
	require.False(t, ok)
}
