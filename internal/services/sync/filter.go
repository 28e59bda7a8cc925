package sync

import (
	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/models"
)

// newsContentType is the marker value carried by news posts.
const newsContentType = "news"

// Filter decides which remote posts belong to the news catalog. The remote
// hosts several content types behind the same API.
type Filter struct {
	newsCategory string
	requireNews  bool
	exclude      map[string]bool
}

// NewFilter builds a filter from sync configuration.
func NewFilter(cfg config.SyncConfig) *Filter {
	f := &Filter{
		newsCategory: cfg.NewsCategory,
		requireNews:  cfg.RequireNewsCategory,
		exclude:      make(map[string]bool, len(cfg.ExcludeCategories)),
	}
	for _, slug := range cfg.ExcludeCategories {
		f.exclude[slug] = true
	}
	return f
}

// Accept reports whether item is news. The reason is empty when accepted.
func (f *Filter) Accept(item *models.RemoteItem) (bool, string) {
	if item.ContentType != "" && item.ContentType != newsContentType {
		return false, "content type " + item.ContentType
	}
	for _, slug := range item.Categories {
		if f.exclude[slug] {
			return false, "category " + slug
		}
	}
	if f.requireNews && f.newsCategory != "" && !item.HasCategory(f.newsCategory) {
		return false, "missing category " + f.newsCategory
	}
	return true, ""
}

// Dedup collapses items sharing a remote id, keeping the most recently
// modified copy at the position of the first occurrence.
func Dedup(items []models.RemoteItem) []models.RemoteItem {
	pos := make(map[int64]int, len(items))
	out := make([]models.RemoteItem, 0, len(items))

	for _, item := range items {
		i, seen := pos[item.RemoteID]
		if !seen {
			pos[item.RemoteID] = len(out)
			out = append(out, item)
			continue
		}
		if item.Modified.After(out[i].Modified) {
			out[i] = item
		}
	}
	return out
}
