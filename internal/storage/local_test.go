package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreSaveAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "42.pdf", []byte("%PDF-1.4")))
	data, err := os.ReadFile(filepath.Join(dir, "uploads", "42.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")

	require.NoError(t, store.Delete(ctx, "42.pdf"))
	require.NoError(t, store.Delete(ctx, "42.pdf"))
	_, err = os.Stat(filepath.Join(dir, "uploads", "42.pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStoreRejectsPathTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../x.pdf", `a\b.pdf`} {
		assert.Error(t, store.Save(context.Background(), name, []byte("x")), name)
	}
}

func TestLocalStoreSaveHonoursCancellation(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, store.Save(ctx, "1.pdf", []byte("x")), context.Canceled)
}
