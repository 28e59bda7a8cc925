package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/TheMichaelB/newsync/internal/models"
)

// ListTrash returns the trash collection.
func (r *Repository) ListTrash(ctx context.Context) ([]models.TrashItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadTrash(ctx)
}

// SoftDelete moves an item from the main collection to the trash.
func (r *Repository) SoftDelete(ctx context.Context, id string) (*models.TrashItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.loadItems(ctx)
	if err != nil {
		return nil, err
	}
	idx := IndexByLocalID(items, id)
	if idx < 0 {
		return nil, models.ErrNotFound
	}

	trash, err := r.loadTrash(ctx)
	if err != nil {
		return nil, err
	}

	entry := models.TrashItem{
		ContentItem: items[idx].Clone(),
		TrashID:     uuid.NewString(),
		DeletedAt:   r.now(),
	}

	// Trash first: a crash between the writes leaves a duplicate, never a loss.
	if err := r.writeTrash(ctx, append(trash, entry)); err != nil {
		return nil, err
	}
	items = append(items[:idx], items[idx+1:]...)
	if err := r.writeItems(ctx, items); err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"item_id":  id,
		"trash_id": entry.TrashID,
	}).Info("Moved item to trash")
	return &entry, nil
}

// Restore moves a trash entry back. It replaces a live item with the same
// local id; a different live item holding its remote id is a conflict.
func (r *Repository) Restore(ctx context.Context, trashID string) (*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	trash, err := r.loadTrash(ctx)
	if err != nil {
		return nil, err
	}
	tIdx := findTrash(trash, trashID)
	if tIdx < 0 {
		return nil, models.ErrNotFound
	}

	items, err := r.loadItems(ctx)
	if err != nil {
		return nil, err
	}

	restored := trash[tIdx].ContentItem.Clone()
	restored.Timestamps.UpdatedAt = laterOf(r.now(), restored.Timestamps.UpdatedAt)

	idx := IndexByLocalID(items, restored.LocalID)
	if restored.RemoteID != nil {
		if other := IndexByRemoteID(items, *restored.RemoteID); other >= 0 && other != idx {
			return nil, fmt.Errorf("restore %s: remote id %d held by %s: %w",
				restored.LocalID, *restored.RemoteID, items[other].LocalID, models.ErrRemoteIDConflict)
		}
	}

	if idx >= 0 {
		items[idx] = restored
	} else {
		items = append(items, restored)
	}

	if err := r.writeItems(ctx, items); err != nil {
		return nil, err
	}
	trash = append(trash[:tIdx], trash[tIdx+1:]...)
	if err := r.writeTrash(ctx, trash); err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"item_id":  restored.LocalID,
		"trash_id": trashID,
		"replaced": idx >= 0,
	}).Info("Restored item from trash")
	return &restored, nil
}

// Purge permanently removes a trash entry.
func (r *Repository) Purge(ctx context.Context, trashID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	trash, err := r.loadTrash(ctx)
	if err != nil {
		return err
	}
	idx := findTrash(trash, trashID)
	if idx < 0 {
		return models.ErrNotFound
	}

	trash = append(trash[:idx], trash[idx+1:]...)
	if err := r.writeTrash(ctx, trash); err != nil {
		return err
	}

	r.logger.WithField("trash_id", trashID).Info("Purged trash entry")
	return nil
}

func findTrash(trash []models.TrashItem, trashID string) int {
	for i := range trash {
		if trash[i].TrashID == trashID {
			return i
		}
	}
	return -1
}

func (r *Repository) loadTrash(ctx context.Context) ([]models.TrashItem, error) {
	raws, err := r.readArray(ctx, r.trashPath)
	if err != nil {
		return nil, err
	}

	trash := make([]models.TrashItem, 0, len(raws))
	var rejected []json.RawMessage
	for _, raw := range raws {
		var entry models.TrashItem
		if err := json.Unmarshal(raw, &entry); err != nil {
			rejected = append(rejected, raw)
			continue
		}
		if err := models.CheckItem(r.validate, entry.LocalID, &entry); err != nil {
			r.logger.WithError(err).Warn("Quarantining invalid trash entry")
			rejected = append(rejected, raw)
			continue
		}
		trash = append(trash, entry)
	}

	if len(rejected) > 0 {
		if err := r.quarantine(ctx, r.trashPath, rejected); err != nil {
			return nil, err
		}
		if err := r.writeTrash(ctx, trash); err != nil {
			return nil, err
		}
	}

	return trash, nil
}

func (r *Repository) writeTrash(ctx context.Context, trash []models.TrashItem) error {
	if trash == nil {
		trash = []models.TrashItem{}
	}
	return r.writeJSON(ctx, r.trashPath, trash)
}
