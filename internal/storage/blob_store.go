package storage

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrNotFound is returned by Read for a missing blob.
var ErrNotFound = errors.New("file not found")

// BlobStore persists whole documents by relative path.
type BlobStore interface {
	// Write replaces the document at path atomically.
	Write(ctx context.Context, path string, data []byte, mode os.FileMode) error

	// Read retrieves document contents. Missing documents yield ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error

	// Exists checks if a document exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the documents directly under dir, sorted by path.
	List(ctx context.Context, dir string) ([]FileInfo, error)
}

// FileInfo contains document metadata.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}
