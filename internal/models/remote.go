package models

import "time"

// RemoteItem is a post as reported by the remote CMS, normalized from
// either the REST or the plugin channel.
type RemoteItem struct {
	RemoteID      int64     `json:"remote_id" validate:"required,gt=0"`
	Title         string    `json:"title" validate:"required"`
	Slug          string    `json:"slug"`
	Excerpt       string    `json:"excerpt"`
	BodyHTML      string    `json:"body_html"`
	Status        Status    `json:"status" validate:"news_status"`
	Featured      bool      `json:"featured"`
	Categories    []string  `json:"categories"`
	Tags          []string  `json:"tags"`
	FeaturedImage *string   `json:"featured_image,omitempty"`
	Gallery       []string  `json:"gallery"`
	Author        string    `json:"author"`
	ContentType   string    `json:"content_type,omitempty"`
	Date          time.Time `json:"date"`
	Modified      time.Time `json:"modified"`
}

// HasCategory reports whether slug is among the item's categories.
func (r *RemoteItem) HasCategory(slug string) bool {
	for _, c := range r.Categories {
		if c == slug {
			return true
		}
	}
	return false
}

// PrimaryCategory returns the first category slug, if any.
func (r *RemoteItem) PrimaryCategory() string {
	if len(r.Categories) == 0 {
		return ""
	}
	return r.Categories[0]
}

// PushMode selects the remote write operation.
type PushMode string

// Push modes.
const (
	ModeCreate PushMode = "create"
	ModeUpdate PushMode = "update"
)

// PushResult is the remote's acknowledgement of a write.
type PushResult struct {
	RemoteID int64  `json:"remote_id"`
	Channel  string `json:"channel"` // plugin or rest
}
