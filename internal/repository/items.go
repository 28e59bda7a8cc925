package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/newsync/internal/models"
)

// Patch holds the fields an update changes. Nil fields are left alone.
type Patch struct {
	Title              *string
	Slug               *string
	Excerpt            *string
	BodyHTML           *string
	Status             *models.Status
	Featured           *bool
	Category           *string
	Tags               *[]string
	FeaturedImage      *string
	ClearFeaturedImage bool
	Gallery            *[]string
	Author             *string
	RemoteID           *int64
}

// find returns the index of the first item matching pred, or -1.
func find(items []models.ContentItem, pred func(*models.ContentItem) bool) int {
	for i := range items {
		if pred(&items[i]) {
			return i
		}
	}
	return -1
}

// IndexByLocalID returns the position of id in items, or -1.
func IndexByLocalID(items []models.ContentItem, id string) int {
	return find(items, func(c *models.ContentItem) bool { return c.LocalID == id })
}

// IndexByRemoteID returns the position of remoteID in items, or -1.
func IndexByRemoteID(items []models.ContentItem, remoteID int64) int {
	return find(items, func(c *models.ContentItem) bool { return c.RemoteID != nil && *c.RemoteID == remoteID })
}

// FindByLocalID returns the item with the given local id.
func (r *Repository) FindByLocalID(ctx context.Context, id string) (*models.ContentItem, error) {
	return r.findOne(ctx, func(c *models.ContentItem) bool { return c.LocalID == id })
}

// FindByRemoteID returns the item claiming remoteID.
func (r *Repository) FindByRemoteID(ctx context.Context, remoteID int64) (*models.ContentItem, error) {
	return r.findOne(ctx, func(c *models.ContentItem) bool { return c.RemoteID != nil && *c.RemoteID == remoteID })
}

// FindBySlug returns the first item with slug.
func (r *Repository) FindBySlug(ctx context.Context, slug string) (*models.ContentItem, error) {
	return r.findOne(ctx, func(c *models.ContentItem) bool { return c.Slug == slug })
}

func (r *Repository) findOne(ctx context.Context, pred func(*models.ContentItem) bool) (*models.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, err := r.readValid(ctx)
	if err != nil {
		return nil, err
	}

	idx := find(items, pred)
	if idx < 0 {
		return nil, models.ErrNotFound
	}
	item := items[idx].Clone()
	return &item, nil
}

// readValid parses the main collection without quarantining; callers
// holding only the read lock must not write.
func (r *Repository) readValid(ctx context.Context) ([]models.ContentItem, error) {
	raws, err := r.readArray(ctx, r.newsPath)
	if err != nil {
		return nil, err
	}
	items := make([]models.ContentItem, 0, len(raws))
	for _, raw := range raws {
		var item models.ContentItem
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		if models.CheckItem(r.validate, item.LocalID, &item) != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Create assigns identity and timestamps to draft and appends it.
func (r *Repository) Create(ctx context.Context, draft models.ContentItem) (*models.ContentItem, error) {
	var created models.ContentItem

	err := r.Mutate(ctx, func(items []models.ContentItem) ([]models.ContentItem, bool, error) {
		if draft.RemoteID != nil && IndexByRemoteID(items, *draft.RemoteID) >= 0 {
			return nil, false, fmt.Errorf("create with remote id %d: %w", *draft.RemoteID, models.ErrRemoteIDConflict)
		}

		created = NewItem(items, draft, r.now())
		return append(items, created), true, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithField("item_id", created.LocalID).Debug("Created item")
	return &created, nil
}

// NewItem stamps a draft as a new collection member without persisting it.
// A preferred LocalID on the draft is kept when free.
func NewItem(items []models.ContentItem, draft models.ContentItem, now time.Time) models.ContentItem {
	item := draft.Clone()
	item.LocalID = UniqueLocalID(items, draft.LocalID)

	if item.Status == "" {
		item.Status = models.StatusDraft
	}
	if item.Slug == "" {
		item.Slug = uniqueSlug(items, Slugify(item.Title))
	}
	if item.Taxonomy.Tags == nil {
		item.Taxonomy.Tags = []string{}
	}
	if item.Media.Gallery == nil {
		item.Media.Gallery = []string{}
	}

	if item.Timestamps.CreatedAt.IsZero() {
		item.Timestamps.CreatedAt = now
	}
	item.Timestamps.UpdatedAt = laterOf(now, item.Timestamps.CreatedAt)
	if item.Status == models.StatusPublished && item.Timestamps.PublishedAt == nil {
		t := item.Timestamps.UpdatedAt
		item.Timestamps.PublishedAt = &t
	}
	return item
}

// UniqueLocalID returns preferred when unused, a suffixed variant of it
// when taken, or a fresh UUID when preferred is empty.
func UniqueLocalID(items []models.ContentItem, preferred string) string {
	if preferred == "" {
		return uuid.NewString()
	}
	if IndexByLocalID(items, preferred) < 0 {
		return preferred
	}
	return preferred + "-" + uuid.NewString()[:8]
}

// Update merges patch onto the item with the given local id.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (*models.ContentItem, error) {
	var updated models.ContentItem

	err := r.Mutate(ctx, func(items []models.ContentItem) ([]models.ContentItem, bool, error) {
		idx := IndexByLocalID(items, id)
		if idx < 0 {
			return nil, false, models.ErrNotFound
		}

		if patch.RemoteID != nil {
			if other := IndexByRemoteID(items, *patch.RemoteID); other >= 0 && other != idx {
				return nil, false, fmt.Errorf("update %s with remote id %d: %w", id, *patch.RemoteID, models.ErrRemoteIDConflict)
			}
		}

		item := &items[idx]
		applyPatch(item, patch)
		item.Timestamps.UpdatedAt = laterOf(r.now(), item.Timestamps.UpdatedAt)
		if item.Status == models.StatusPublished && item.Timestamps.PublishedAt == nil {
			t := item.Timestamps.UpdatedAt
			item.Timestamps.PublishedAt = &t
		}
		item.Sync.Dirty = true

		updated = item.Clone()
		return items, true, nil
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

func applyPatch(item *models.ContentItem, p Patch) {
	if p.Title != nil {
		item.Title = *p.Title
	}
	if p.Slug != nil {
		item.Slug = *p.Slug
	}
	if p.Excerpt != nil {
		item.Excerpt = *p.Excerpt
	}
	if p.BodyHTML != nil {
		item.BodyHTML = *p.BodyHTML
	}
	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.Featured != nil {
		item.Featured = *p.Featured
	}
	if p.Category != nil {
		item.Taxonomy.Category = *p.Category
	}
	if p.Tags != nil {
		item.Taxonomy.Tags = append([]string{}, (*p.Tags)...)
	}
	if p.ClearFeaturedImage {
		item.Media.FeaturedImage = nil
	} else if p.FeaturedImage != nil {
		ref := *p.FeaturedImage
		item.Media.FeaturedImage = &ref
	}
	if p.Gallery != nil {
		item.Media.Gallery = append([]string{}, (*p.Gallery)...)
	}
	if p.Author != nil {
		item.Author = *p.Author
	}
	if p.RemoteID != nil {
		id := *p.RemoteID
		item.RemoteID = &id
	}
}

// StampSynced records a successful push without touching UpdatedAt.
func (r *Repository) StampSynced(ctx context.Context, id string, remoteID int64, at time.Time) (*models.ContentItem, error) {
	var stamped models.ContentItem

	err := r.Mutate(ctx, func(items []models.ContentItem) ([]models.ContentItem, bool, error) {
		idx := IndexByLocalID(items, id)
		if idx < 0 {
			return nil, false, models.ErrNotFound
		}
		if other := IndexByRemoteID(items, remoteID); other >= 0 && other != idx {
			return nil, false, fmt.Errorf("stamp %s with remote id %d: %w", id, remoteID, models.ErrRemoteIDConflict)
		}

		item := &items[idx]
		rid := remoteID
		item.RemoteID = &rid
		synced := laterOf(at, item.Timestamps.UpdatedAt)
		item.Sync = models.SyncInfo{SyncedToRemote: true, LastSyncAt: &synced}

		stamped = item.Clone()
		return items, true, nil
	})
	if err != nil {
		return nil, err
	}

	return &stamped, nil
}

// Scope selects what Clear removes.
type Scope int

const (
	// ScopeMain empties the main collection.
	ScopeMain Scope = iota
	// ScopeMainAndTrash empties the main collection and the trash.
	ScopeMainAndTrash
	// ScopeTrash empties only the trash.
	ScopeTrash
)

// Clear empties collections.
func (r *Repository) Clear(ctx context.Context, scope Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if scope != ScopeTrash {
		if err := r.writeItems(ctx, nil); err != nil {
			return err
		}
	}
	if scope != ScopeMain {
		if err := r.writeTrash(ctx, nil); err != nil {
			return err
		}
	}

	r.logger.WithField("scope", int(scope)).Warn("Cleared local collections")
	return nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
