package storage

import (
	"context"
	"os"

	"github.com/TheMichaelB/newsync/internal/events"
)

// MirrorStore writes to a primary store and copies writes to a secondary
// store on a best-effort basis. Reads and listings come from the primary.
type MirrorStore struct {
	primary   BlobStore
	secondary BlobStore
	logger    *events.Logger
}

var _ BlobStore = (*MirrorStore)(nil)

// NewMirrorStore wraps primary with a best-effort secondary.
func NewMirrorStore(primary, secondary BlobStore, logger *events.Logger) *MirrorStore {
	return &MirrorStore{
		primary:   primary,
		secondary: secondary,
		logger:    logger.WithField("component", "mirror_store"),
	}
}

// Write saves to the primary, then mirrors. Mirror failures are logged only.
func (m *MirrorStore) Write(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	if err := m.primary.Write(ctx, path, data, mode); err != nil {
		return err
	}
	if err := m.secondary.Write(ctx, path, data, mode); err != nil {
		m.logger.WithError(err).WithField("path", path).Warn("Mirror write failed")
	}
	return nil
}

// Read reads from the primary.
func (m *MirrorStore) Read(ctx context.Context, path string) ([]byte, error) {
	return m.primary.Read(ctx, path)
}

// Delete removes from both stores; only primary failures are returned.
func (m *MirrorStore) Delete(ctx context.Context, path string) error {
	if err := m.primary.Delete(ctx, path); err != nil {
		return err
	}
	if err := m.secondary.Delete(ctx, path); err != nil {
		m.logger.WithError(err).WithField("path", path).Warn("Mirror delete failed")
	}
	return nil
}

// Exists checks the primary.
func (m *MirrorStore) Exists(ctx context.Context, path string) (bool, error) {
	return m.primary.Exists(ctx, path)
}

// List lists the primary.
func (m *MirrorStore) List(ctx context.Context, dir string) ([]FileInfo, error) {
	return m.primary.List(ctx, dir)
}
