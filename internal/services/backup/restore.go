package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/repository"
)

// Restore applies bundle to the repository. Replace takes a pre-restore
// snapshot and then writes the bundle verbatim. Merge matches by local id,
// then by remote id, and keeps unrelated current items.
func (m *Manager) Restore(ctx context.Context, bundle *models.BackupBundle, strategy Strategy) (*RestoreResult, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("restore strategy %q: %w", strategy, models.ErrInvalidConfig)
	}

	result := &RestoreResult{Strategy: strategy, Total: len(bundle.Items)}

	switch strategy {
	case StrategyReplace:
		safety, err := m.Snapshot(ctx, models.BackupPreRestore)
		if err != nil {
			return nil, fmt.Errorf("pre-restore snapshot: %w", err)
		}
		result.SafetyRef = safety.Name

		items := make([]models.ContentItem, len(bundle.Items))
		for i := range bundle.Items {
			items[i] = bundle.Items[i].Clone()
		}
		if err := m.repo.SaveAll(ctx, items); err != nil {
			return nil, fmt.Errorf("replace collection: %w", err)
		}
		result.Added = len(items)

	case StrategyMerge:
		now := m.now().UTC()
		err := m.repo.Mutate(ctx, func(items []models.ContentItem) ([]models.ContentItem, bool, error) {
			changed := false
			for i := range bundle.Items {
				switch mergeItem(&items, bundle.Items[i], now) {
				case mergeAdded:
					result.Added++
					changed = true
				case mergeReplaced:
					result.Replaced++
					changed = true
				default:
					result.Skipped++
				}
			}
			return items, changed, nil
		})
		if err != nil {
			return nil, fmt.Errorf("merge bundle: %w", err)
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"strategy": strategy,
		"added":    result.Added,
		"replaced": result.Replaced,
		"skipped":  result.Skipped,
	}).Info("Restore complete")

	return result, nil
}

// RestoreNamed loads a snapshot by name and restores it.
func (m *Manager) RestoreNamed(ctx context.Context, name string, strategy Strategy) (*RestoreResult, error) {
	bundle, err := m.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.Restore(ctx, bundle, strategy)
}

type mergeOutcome int

const (
	mergeSkipped mergeOutcome = iota
	mergeAdded
	mergeReplaced
)

// mergeItem folds one bundle item into items.
func mergeItem(items *[]models.ContentItem, in models.ContentItem, now time.Time) mergeOutcome {
	current := *items

	idx := repository.IndexByLocalID(current, in.LocalID)
	if idx < 0 && in.RemoteID != nil {
		idx = repository.IndexByRemoteID(current, *in.RemoteID)
	}

	if idx < 0 {
		*items = append(current, in.Clone())
		return mergeAdded
	}

	// A remote id held by a different live item cannot be taken over.
	if in.RemoteID != nil {
		if holder := repository.IndexByRemoteID(current, *in.RemoteID); holder >= 0 && holder != idx {
			return mergeSkipped
		}
	}

	existing := current[idx]
	restored := in.Clone()
	restored.LocalID = existing.LocalID
	if restored.RemoteID == nil {
		restored.RemoteID = existing.RemoteID
	}
	if existing.SameContent(&restored) {
		return mergeSkipped
	}

	restored.Timestamps.CreatedAt = existing.Timestamps.CreatedAt
	if restored.Timestamps.PublishedAt == nil {
		restored.Timestamps.PublishedAt = existing.Timestamps.PublishedAt
	}
	restored.Timestamps.UpdatedAt = latest(now, existing.Timestamps.UpdatedAt, restored.Timestamps.UpdatedAt)
	restored.Sync.Dirty = true

	current[idx] = restored
	return mergeReplaced
}

func latest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}
	return out
}
