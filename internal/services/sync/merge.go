package sync

import (
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/repository"
)

// mergeAction is what merging one remote item did to the collection.
type mergeAction int

const (
	mergeSkipped mergeAction = iota
	mergeUpdated
	mergeCreated
)

// fieldSet selects which optional field groups a pull writes.
type fieldSet struct {
	images     bool
	categories bool
	tags       bool
}

func fieldsFor(req Request) fieldSet {
	return fieldSet{images: req.SyncImages, categories: req.SyncCategories, tags: req.SyncTags}
}

// mergeRemote folds one remote item into items. Matching goes by remote id,
// then by title and slug among items never pushed, else a new item is made.
func mergeRemote(items []models.ContentItem, in *models.RemoteItem, fields fieldSet, now time.Time) ([]models.ContentItem, mergeAction, string) {
	idx := repository.IndexByRemoteID(items, in.RemoteID)
	if idx < 0 {
		idx = matchUnlinked(items, in)
	}

	if idx < 0 {
		seed := models.ContentItem{LocalID: models.RemoteLocalID(in.RemoteID)}
		applyRemote(&seed, in, fields)
		if !in.Date.IsZero() && !in.Date.After(now) {
			seed.Timestamps.CreatedAt = in.Date
		}
		if seed.Status == models.StatusPublished && !in.Date.IsZero() {
			t := in.Date
			seed.Timestamps.PublishedAt = &t
		}
		created := repository.NewItem(items, seed, now)
		stamp(&created, in.RemoteID, now)
		return append(items, created), mergeCreated, created.LocalID
	}

	current := &items[idx]

	// A pending local edit survives when the remote copy has not moved
	// since the last sync; the push phase sends it.
	if current.HasRemote() && current.NeedsPush() && current.Sync.LastSyncAt != nil &&
		!in.Modified.After(*current.Sync.LastSyncAt) {
		return items, mergeSkipped, current.LocalID
	}

	merged := current.Clone()
	applyRemote(&merged, in, fields)
	if merged.SameContent(current) && current.RemoteKey() == in.RemoteID && !current.NeedsPush() {
		return items, mergeSkipped, current.LocalID
	}

	if merged.Timestamps.UpdatedAt.Before(now) {
		merged.Timestamps.UpdatedAt = now
	}
	if merged.Status == models.StatusPublished && merged.Timestamps.PublishedAt == nil {
		t := merged.Timestamps.UpdatedAt
		merged.Timestamps.PublishedAt = &t
	}
	stamp(&merged, in.RemoteID, now)
	items[idx] = merged
	return items, mergeUpdated, merged.LocalID
}

// matchUnlinked finds an item without a remote id whose title and slug
// equal the remote item's after NFC normalization.
func matchUnlinked(items []models.ContentItem, in *models.RemoteItem) int {
	title := norm.NFC.String(in.Title)
	slug := norm.NFC.String(in.Slug)
	for i := range items {
		if items[i].HasRemote() {
			continue
		}
		if norm.NFC.String(items[i].Title) == title && norm.NFC.String(items[i].Slug) == slug {
			return i
		}
	}
	return -1
}

// applyRemote overwrites content fields with the remote copy.
func applyRemote(item *models.ContentItem, in *models.RemoteItem, fields fieldSet) {
	item.Title = in.Title
	if in.Slug != "" {
		item.Slug = in.Slug
	}
	item.Excerpt = in.Excerpt
	item.BodyHTML = in.BodyHTML
	item.Status = in.Status
	item.Featured = in.Featured
	item.Author = in.Author

	if fields.categories {
		item.Taxonomy.Category = in.PrimaryCategory()
	}
	if fields.tags {
		item.Taxonomy.Tags = append([]string{}, in.Tags...)
	}
	if fields.images {
		item.Media.FeaturedImage = nil
		if in.FeaturedImage != nil && *in.FeaturedImage != "" {
			ref := *in.FeaturedImage
			item.Media.FeaturedImage = &ref
		}
		item.Media.Gallery = append([]string{}, in.Gallery...)
	}
}

// stamp marks item as matching the remote copy as of now.
func stamp(item *models.ContentItem, remoteID int64, now time.Time) {
	id := remoteID
	item.RemoteID = &id
	synced := now
	if item.Timestamps.UpdatedAt.After(synced) {
		synced = item.Timestamps.UpdatedAt
	}
	item.Sync = models.SyncInfo{SyncedToRemote: true, LastSyncAt: &synced}
}

func remoteLabel(id int64) string {
	return "remote:" + strconv.FormatInt(id, 10)
}
