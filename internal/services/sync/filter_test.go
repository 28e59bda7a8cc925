package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/models"
)

func TestFilterAccept(t *testing.T) {
	base := config.DefaultConfig().Sync
	strict := base
	strict.RequireNewsCategory = true

	tests := []struct {
		name   string
		cfg    config.SyncConfig
		item   models.RemoteItem
		accept bool
	}{
		{"plain news", base, models.RemoteItem{Categories: []string{"news"}, ContentType: "news"}, true},
		{"no marker", base, models.RemoteItem{Categories: []string{"events"}}, true},
		{"foreign marker", base, models.RemoteItem{Categories: []string{"news"}, ContentType: "job"}, false},
		{"recruitment", base, models.RemoteItem{Categories: []string{"news", "recruitment"}}, false},
		{"jobs", base, models.RemoteItem{Categories: []string{"jobs"}}, false},
		{"strict without news", strict, models.RemoteItem{Categories: []string{"events"}}, false},
		{"strict with news", strict, models.RemoteItem{Categories: []string{"events", "news"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := NewFilter(tt.cfg).Accept(&tt.item)
			assert.Equal(t, tt.accept, ok)
			if ok {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestDedupKeepsLatestInFirstPosition(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []models.RemoteItem{
		{RemoteID: 1, Title: "old", Modified: t0},
		{RemoteID: 2, Title: "two", Modified: t0},
		{RemoteID: 1, Title: "new", Modified: t0.Add(time.Minute)},
		{RemoteID: 1, Title: "stale", Modified: t0.Add(-time.Minute)},
	}

	out := Dedup(in)
	if assert.Len(t, out, 2) {
		assert.Equal(t, "new", out[0].Title)
		assert.Equal(t, "two", out[1].Title)
	}
}

func TestMatchUnlinkedNormalizes(t *testing.T) {
	items := []models.ContentItem{
		{LocalID: "linked", Title: "Café", Slug: "cafe", RemoteID: models.Int64(4)},
		{LocalID: "free", Title: "Café", Slug: "cafe"},
	}

	assert.Equal(t, 1, matchUnlinked(items, &models.RemoteItem{Title: "Café", Slug: "cafe"}))
	assert.Equal(t, -1, matchUnlinked(items, &models.RemoteItem{Title: "Café", Slug: "cafe-2"}))
	assert.Equal(t, -1, matchUnlinked(items, &models.RemoteItem{Title: "Cafe", Slug: "cafe"}))
}

func TestStampNeverPrecedesUpdate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	item := models.ContentItem{Timestamps: models.Timestamps{UpdatedAt: now.Add(time.Hour)}}

	stamp(&item, 9, now)

	assert.Equal(t, int64(9), item.RemoteKey())
	assert.Equal(t, now.Add(time.Hour), *item.Sync.LastSyncAt)
	assert.False(t, item.NeedsPush())
}
