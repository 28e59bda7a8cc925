package testutil

import (
	"bytes"
	"fmt"
	"time"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
)

// Epoch is the reference instant used by fixtures.
var Epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// RemoteNews returns a published news post as pulled from the CMS.
func RemoteNews(id int64, title string) models.RemoteItem {
	return models.RemoteItem{
		RemoteID:    id,
		Title:       title,
		Slug:        fmt.Sprintf("news-%d", id),
		Excerpt:     "Excerpt of " + title,
		BodyHTML:    "<p>" + title + "</p>",
		Status:      models.StatusPublished,
		Categories:  []string{"news"},
		Tags:        []string{"town"},
		Gallery:     []string{},
		Author:      "Editor",
		ContentType: "news",
		Date:        Epoch.Add(-48 * time.Hour),
		Modified:    Epoch.Add(-24 * time.Hour),
	}
}

// RemoteInCategory returns a post filed under category.
func RemoteInCategory(id int64, title, category string) models.RemoteItem {
	item := RemoteNews(id, title)
	item.Categories = []string{category}
	return item
}

// LocalDraft returns an unsaved item that has never been pushed.
func LocalDraft(title string) models.ContentItem {
	return models.ContentItem{
		Title:    title,
		Excerpt:  "Local excerpt",
		BodyHTML: "<p>" + title + "</p>",
		Status:   models.StatusPublished,
		Taxonomy: models.Taxonomy{Category: "news", Tags: []string{}},
		Media:    models.Media{Gallery: []string{}},
		Author:   "Desk",
	}
}

// Titles extracts titles in order.
func Titles(items []models.ContentItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Title)
	}
	return out
}
