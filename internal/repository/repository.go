// Package repository owns the local news collection and its trash.
//
// Both collections are JSON arrays rewritten whole on every change. Lookups
// are linear scans through find; the collections hold tens to hundreds of
// items. A single process-wide lock serializes every read-modify-write.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/storage"
)

const fileMode = 0600

// Repository provides CRUD over the main and trash collections.
type Repository struct {
	mu        sync.RWMutex
	store     storage.BlobStore
	newsPath  string
	trashPath string
	validate  *validator.Validate
	logger    *events.Logger
	now       func() time.Time
}

// New creates a repository over store.
func New(store storage.BlobStore, newsPath, trashPath string, logger *events.Logger) *Repository {
	return &Repository{
		store:     store,
		newsPath:  newsPath,
		trashPath: trashPath,
		validate:  models.NewValidator(),
		logger:    logger.WithField("component", "repository"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (r *Repository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// LoadAll returns the main collection, creating an empty one on first use.
func (r *Repository) LoadAll(ctx context.Context) ([]models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.store.Exists(ctx, r.newsPath)
	if err != nil {
		return nil, &models.PersistError{Op: "stat", Path: r.newsPath, Err: err}
	}
	if !exists {
		if err := r.writeItems(ctx, nil); err != nil {
			return nil, err
		}
		r.logger.WithField("path", r.newsPath).Info("Created empty news collection")
		return []models.ContentItem{}, nil
	}

	return r.loadItems(ctx)
}

// SaveAll validates items and atomically rewrites the main collection.
func (r *Repository) SaveAll(ctx context.Context, items []models.ContentItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saveItems(ctx, items)
}

// Mutate runs fn on the current collection under the write lock. The
// result is persisted only when fn reports a change.
func (r *Repository) Mutate(ctx context.Context, fn func(items []models.ContentItem) ([]models.ContentItem, bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.loadItems(ctx)
	if err != nil {
		return err
	}

	out, changed, err := fn(items)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return r.saveItems(ctx, out)
}

// Now returns the repository clock reading.
func (r *Repository) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

func (r *Repository) saveItems(ctx context.Context, items []models.ContentItem) error {
	for i := range items {
		if err := models.CheckItem(r.validate, items[i].LocalID, &items[i]); err != nil {
			return err
		}
	}
	if err := CheckIdentity(items); err != nil {
		return err
	}
	return r.writeItems(ctx, items)
}

// loadItems reads the main collection. Records failing validation are
// moved to the quarantine file and dropped from the collection.
func (r *Repository) loadItems(ctx context.Context) ([]models.ContentItem, error) {
	raws, err := r.readArray(ctx, r.newsPath)
	if err != nil {
		return nil, err
	}

	items := make([]models.ContentItem, 0, len(raws))
	var rejected []json.RawMessage
	for _, raw := range raws {
		var item models.ContentItem
		if err := json.Unmarshal(raw, &item); err != nil {
			r.logger.WithError(err).Warn("Quarantining unparseable item")
			rejected = append(rejected, raw)
			continue
		}
		if err := models.CheckItem(r.validate, item.LocalID, &item); err != nil {
			r.logger.WithError(err).WithField("item_id", item.LocalID).Warn("Quarantining invalid item")
			rejected = append(rejected, raw)
			continue
		}
		items = append(items, item)
	}

	if len(rejected) > 0 {
		if err := r.quarantine(ctx, r.newsPath, rejected); err != nil {
			return nil, err
		}
		if err := r.writeItems(ctx, items); err != nil {
			return nil, err
		}
	}

	return items, nil
}

func (r *Repository) writeItems(ctx context.Context, items []models.ContentItem) error {
	if items == nil {
		items = []models.ContentItem{}
	}
	return r.writeJSON(ctx, r.newsPath, items)
}

func (r *Repository) writeJSON(ctx context.Context, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := r.store.Write(ctx, path, data, fileMode); err != nil {
		return &models.PersistError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// readArray reads a JSON array document. A missing document is empty.
func (r *Repository) readArray(ctx context.Context, path string) ([]json.RawMessage, error) {
	data, err := r.store.Read(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, &models.PersistError{Op: "read", Path: path, Err: err}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, &models.PersistError{Op: "parse", Path: path, Err: err}
	}
	return raws, nil
}

// quarantine appends rejected records to <collection>.quarantine.json.
func (r *Repository) quarantine(ctx context.Context, path string, rejected []json.RawMessage) error {
	qPath := QuarantinePath(path)

	existing, err := r.readArray(ctx, qPath)
	if err != nil {
		return err
	}

	if err := r.writeJSON(ctx, qPath, append(existing, rejected...)); err != nil {
		return err
	}

	r.logger.WithFields(map[string]interface{}{
		"path":  qPath,
		"count": len(rejected),
	}).Warn("Quarantined malformed records")
	return nil
}

// QuarantinePath returns the quarantine file for a collection file.
func QuarantinePath(path string) string {
	return strings.TrimSuffix(path, ".json") + ".quarantine.json"
}

// CheckIdentity enforces unique local ids and unique non-nil remote ids.
func CheckIdentity(items []models.ContentItem) error {
	locals := make(map[string]bool, len(items))
	remotes := make(map[int64]string, len(items))

	for _, item := range items {
		if locals[item.LocalID] {
			return fmt.Errorf("duplicate local id %q: %w", item.LocalID, models.ErrInvalidItem)
		}
		locals[item.LocalID] = true

		if item.RemoteID == nil {
			continue
		}
		if other, ok := remotes[*item.RemoteID]; ok {
			return fmt.Errorf("remote id %d on %q and %q: %w", *item.RemoteID, other, item.LocalID, models.ErrRemoteIDConflict)
		}
		remotes[*item.RemoteID] = item.LocalID
	}
	return nil
}
