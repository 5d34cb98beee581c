package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStoreRoundTrip(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	n, err := store.Put(ctx, "reports/abc.json", strings.NewReader(`[{"x":1}]`))
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)

	rc, err := store.Get(ctx, "reports/abc.json")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `[{"x":1}]`, string(content))
}

func TestFileSystemStorePutOverwrites(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "k", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "k", strings.NewReader("new"))
	require.NoError(t, err)

	rc, err := store.Get(ctx, "k")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestFileSystemStoreGetMissing(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "reports/nope.csv")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileSystemStoreDeleteIdempotent(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "reports/x.csv", strings.NewReader("a,b\n"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "reports/x.csv"))

	_, err = store.Get(ctx, "reports/x.csv")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Deleting a blob that is already gone is not an error.
	require.NoError(t, store.Delete(ctx, "reports/x.csv"))
}

func TestFileSystemStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../outside", "/etc/passwd", "a/../../b", "."} {
		_, err := store.Put(ctx, key, strings.NewReader("x"))
		assert.Error(t, err, "key %q should be rejected", key)
	}
}
