package storage_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/storage"
)

func TestMirrorStore(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	primary := storage.NewMemoryStore()
	secondary := storage.NewMemoryStore()
	mirror := storage.NewMirrorStore(primary, secondary, logger)

	require.NoError(t, mirror.Write(ctx, "backups/a.json", []byte("a"), 0600))
	assert.Equal(t, 1, primary.Count())
	assert.Equal(t, 1, secondary.Count())

	t.Run("secondary failure is not fatal", func(t *testing.T) {
		secondary.FailWrites(errors.New("access denied"))
		defer secondary.FailWrites(nil)

		require.NoError(t, mirror.Write(ctx, "backups/b.json", []byte("b"), 0600))
		assert.Contains(t, buf.String(), "Mirror write failed")

		files, err := mirror.List(ctx, "backups")
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})

	t.Run("primary failure is returned", func(t *testing.T) {
		primary.FailWrites(errors.New("disk full"))
		defer primary.FailWrites(nil)

		assert.Error(t, mirror.Write(ctx, "backups/c.json", []byte("c"), 0600))
	})

	t.Run("delete reaches both", func(t *testing.T) {
		require.NoError(t, mirror.Delete(ctx, "backups/a.json"))
		ok, _ := secondary.Exists(ctx, "backups/a.json")
		assert.False(t, ok)
	})
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.Write(ctx, "news.json", []byte("[]"), 0600))
	require.NoError(t, store.Write(ctx, "backups/x.json", []byte("{}"), 0600))

	root, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.Equal(t, "news.json", root[0].Path)

	_, err = store.Read(ctx, "nope.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
