package models

import (
	"strconv"
	"time"
)

// Status of a content item.
type Status string

// Item statuses.
const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// ContentItem is one news entry in the local catalog.
type ContentItem struct {
	LocalID    string     `json:"id" validate:"required"`
	RemoteID   *int64     `json:"remote_id,omitempty" validate:"omitempty,gt=0"`
	Title      string     `json:"title" validate:"required"`
	Slug       string     `json:"slug"`
	Excerpt    string     `json:"excerpt"`
	BodyHTML   string     `json:"body_html"`
	Status     Status     `json:"status" validate:"news_status"`
	Featured   bool       `json:"featured"`
	Taxonomy   Taxonomy   `json:"taxonomy"`
	Media      Media      `json:"media"`
	Author     string     `json:"author"`
	Timestamps Timestamps `json:"timestamps"`
	Sync       SyncInfo   `json:"sync_state"`
}

// Taxonomy groups an item's category and tags.
type Taxonomy struct {
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// Media holds image references.
type Media struct {
	FeaturedImage *string  `json:"featured_image,omitempty"`
	Gallery       []string `json:"gallery"`
}

// Timestamps tracks item lifecycle instants.
type Timestamps struct {
	CreatedAt   time.Time  `json:"created_at" validate:"required"`
	UpdatedAt   time.Time  `json:"updated_at" validate:"required,gtefield=CreatedAt"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// SyncInfo records an item's relationship to the remote copy.
type SyncInfo struct {
	SyncedToRemote bool       `json:"synced_to_remote"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	Dirty          bool       `json:"dirty,omitempty"`
}

// TrashItem is a soft-deleted content item.
type TrashItem struct {
	ContentItem
	TrashID   string    `json:"trash_id" validate:"required"`
	DeletedAt time.Time `json:"deleted_at" validate:"required"`
}

// HasRemote reports whether the item has been created remotely.
func (c *ContentItem) HasRemote() bool {
	return c.RemoteID != nil
}

// RemoteKey returns the remote id or 0.
func (c *ContentItem) RemoteKey() int64 {
	if c.RemoteID == nil {
		return 0
	}
	return *c.RemoteID
}

// NeedsPush reports whether local changes have not reached the remote.
func (c *ContentItem) NeedsPush() bool {
	if c.RemoteID == nil || c.Sync.Dirty {
		return true
	}
	if c.Sync.LastSyncAt == nil {
		return true
	}
	return c.Timestamps.UpdatedAt.After(*c.Sync.LastSyncAt)
}

// Clone returns a deep copy.
func (c ContentItem) Clone() ContentItem {
	out := c
	if c.RemoteID != nil {
		id := *c.RemoteID
		out.RemoteID = &id
	}
	if c.Media.FeaturedImage != nil {
		ref := *c.Media.FeaturedImage
		out.Media.FeaturedImage = &ref
	}
	if c.Timestamps.PublishedAt != nil {
		t := *c.Timestamps.PublishedAt
		out.Timestamps.PublishedAt = &t
	}
	if c.Sync.LastSyncAt != nil {
		t := *c.Sync.LastSyncAt
		out.Sync.LastSyncAt = &t
	}
	out.Taxonomy.Tags = cloneStrings(c.Taxonomy.Tags)
	out.Media.Gallery = cloneStrings(c.Media.Gallery)
	return out
}

// SameContent reports whether the user-visible fields of c and o match.
// Identity, timestamps and sync state are ignored.
func (c *ContentItem) SameContent(o *ContentItem) bool {
	return c.Title == o.Title &&
		c.Slug == o.Slug &&
		c.Excerpt == o.Excerpt &&
		c.BodyHTML == o.BodyHTML &&
		c.Status == o.Status &&
		c.Featured == o.Featured &&
		c.Author == o.Author &&
		c.Taxonomy.Category == o.Taxonomy.Category &&
		equalStrings(c.Taxonomy.Tags, o.Taxonomy.Tags) &&
		equalStrings(c.Media.Gallery, o.Media.Gallery) &&
		equalRef(c.Media.FeaturedImage, o.Media.FeaturedImage)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// RemoteLocalID synthesizes the local id of a remote-origin item.
func RemoteLocalID(remoteID int64) string {
	return "wp-" + strconv.FormatInt(remoteID, 10)
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}
