package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory BlobStore for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	files   map[string][]byte
	mtimes  map[string]time.Time
	failErr error
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:  make(map[string][]byte),
		mtimes: make(map[string]time.Time),
	}
}

// FailWrites makes every subsequent Write and Delete return err. Nil clears it.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Write saves data.
func (m *MemoryStore) Write(ctx context.Context, p string, data []byte, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[clean(p)] = buf
	m.mtimes[clean(p)] = time.Now()
	return nil
}

// Read retrieves contents.
func (m *MemoryStore) Read(ctx context.Context, p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[clean(p)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete removes a document.
func (m *MemoryStore) Delete(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	delete(m.files, clean(p))
	delete(m.mtimes, clean(p))
	return nil
}

// Exists checks if a document exists.
func (m *MemoryStore) Exists(ctx context.Context, p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[clean(p)]
	return ok, nil
}

// List returns documents directly under dir.
func (m *MemoryStore) List(ctx context.Context, dir string) ([]FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := clean(dir)
	if prefix != "" {
		prefix += "/"
	}

	var files []FileInfo
	for name, data := range m.files {
		if !strings.HasPrefix(name, prefix) || strings.Contains(strings.TrimPrefix(name, prefix), "/") {
			continue
		}
		files = append(files, FileInfo{Path: name, Size: int64(len(data)), ModTime: m.mtimes[name]})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Count returns the number of stored documents.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
