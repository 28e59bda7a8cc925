package storage_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/storage"
)

func newLocalStore(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	tmpDir := t.TempDir()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := storage.NewLocalStore(tmpDir, logger)
	require.NoError(t, err)
	return store, tmpDir
}

func TestLocalStoreReadWrite(t *testing.T) {
	ctx := context.Background()
	store, tmpDir := newLocalStore(t)

	require.NoError(t, store.Write(ctx, "news.json", []byte(`[]`), 0600))

	data, err := store.Read(ctx, "news.json")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))

	info, err := os.Stat(filepath.Join(tmpDir, "news.json"))
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	// Overwrite replaces content
	require.NoError(t, store.Write(ctx, "news.json", []byte(`[{"id":"a"}]`), 0600))
	data, err = store.Read(ctx, "news.json")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, string(data))
}

func TestLocalStoreNotFound(t *testing.T) {
	store, _ := newLocalStore(t)

	_, err := store.Read(context.Background(), "missing.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := store.Exists(context.Background(), "missing.json")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting a missing file is fine
	assert.NoError(t, store.Delete(context.Background(), "missing.json"))
}

func TestAtomicWrites(t *testing.T) {
	ctx := context.Background()
	store, _ := newLocalStore(t)

	t.Run("concurrent writes different files", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 10)

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				path := fmt.Sprintf("concurrent-%d.json", n)
				if err := store.Write(ctx, path, []byte(fmt.Sprintf("content-%d", n)), 0644); err != nil {
					errs <- err
				}
			}(i)
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("Write error: %v", err)
		}

		for i := 0; i < 10; i++ {
			data, err := store.Read(ctx, fmt.Sprintf("concurrent-%d.json", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("content-%d", i), string(data))
		}
	})

	t.Run("size limit", func(t *testing.T) {
		store.SetMaxFileSize(1024)
		defer store.SetMaxFileSize(64 * 1024 * 1024)

		err := store.Write(ctx, "large.json", bytes.Repeat([]byte("b"), 2048), 0644)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "too large")

		exists, _ := store.Exists(ctx, "large.json")
		assert.False(t, exists)
	})

	t.Run("write failure cleanup", func(t *testing.T) {
		// A directory in the way makes the rename fail
		require.NoError(t, store.Write(ctx, "blocker/inner.json", []byte("x"), 0644))

		err := store.Write(ctx, "blocker", []byte("data"), 0644)
		assert.Error(t, err)

		files, err := store.List(ctx, "")
		require.NoError(t, err)
		for _, file := range files {
			assert.NotContains(t, file.Path, ".tmp.", "Found temp file: %s", file.Path)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, store.Write(canceled, "x.json", []byte("x"), 0644), context.Canceled)
	})
}

func TestLocalStoreList(t *testing.T) {
	ctx := context.Background()
	store, _ := newLocalStore(t)

	files, err := store.List(ctx, "backups")
	require.NoError(t, err)
	assert.Empty(t, files, "missing dir lists empty")

	for _, name := range []string{"b.json", "a.json", "c.json"} {
		require.NoError(t, store.Write(ctx, "backups/"+name, []byte(name), 0644))
	}
	require.NoError(t, store.Write(ctx, "backups/nested/d.json", []byte("d"), 0644))

	files, err = store.List(ctx, "backups")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "backups/a.json", files[0].Path)
	assert.Equal(t, "backups/c.json", files[2].Path)
	assert.EqualValues(t, 6, files[1].Size)
}

func TestDeleteCleansEmptyDirs(t *testing.T) {
	ctx := context.Background()
	store, tmpDir := newLocalStore(t)

	require.NoError(t, store.Write(ctx, "cleanup/sub/file.json", []byte("data"), 0644))
	require.NoError(t, store.Delete(ctx, "cleanup/sub/file.json"))

	_, err := os.Stat(filepath.Join(tmpDir, "cleanup"))
	assert.True(t, os.IsNotExist(err))
}

func TestPathSanitization(t *testing.T) {
	ctx := context.Background()
	store, _ := newLocalStore(t)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"normal path", "backups/news.json", false},
		{"path with dots", "backups/./news.json", false},
		{"parent directory traversal", "../etc/passwd", true},
		{"embedded parent traversal", "backups/../../etc/passwd", true},
		{"absolute path", "/etc/passwd", false},
		{"null bytes", "test\x00.json", true},
		{"very long path", strings.Repeat("a", 1100) + "/file.json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Write(ctx, tt.path, []byte("test"), 0644)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "path")
				return
			}

			assert.NoError(t, err)
			exists, _ := store.Exists(ctx, tt.path)
			assert.True(t, exists)
			_ = store.Delete(ctx, tt.path)
		})
	}
}

func TestSymlinkHandling(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Symlink test requires Unix-like OS")
	}

	store, tmpDir := newLocalStore(t)

	externalPath := filepath.Join(t.TempDir(), "external.json")
	require.NoError(t, os.WriteFile(externalPath, []byte("external"), 0644))
	require.NoError(t, os.Symlink(externalPath, filepath.Join(tmpDir, "link.json")))

	// Store should not follow symlinks by default
	_, err := store.Read(context.Background(), "link.json")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "symlinks not allowed")
}
