package remote

import (
	"bytes"
	"encoding/json"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/TheMichaelB/newsync/internal/models"
)

// CMS post statuses.
const (
	wpPublish = "publish"
	wpDraft   = "draft"
	wpPrivate = "private"
	wpTrash   = "trash"
)

// wpTime parses CMS timestamps, which may lack a zone designator.
type wpTime struct {
	time.Time
}

var wpTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *wpTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}

	for _, layout := range wpTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	// Unparseable dates are dropped rather than failing the whole page.
	return nil
}

func (t wpTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05"))
}

type rendered struct {
	Rendered string `json:"rendered"`
	Raw      string `json:"raw,omitempty"`
}

func (r rendered) text() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.Rendered
}

type wpTerm struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Taxonomy string `json:"taxonomy"`
}

type wpMedia struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

type wpAuthor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// wpMeta is the post meta the news plugin registers. The CMS encodes an
// empty meta set as [], so decoding tolerates non-objects.
type wpMeta struct {
	ContentType string   `json:"content_type"`
	Featured    bool     `json:"featured"`
	Gallery     []string `json:"gallery"`
}

func (m *wpMeta) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	type plain wpMeta
	return json.Unmarshal(trimmed, (*plain)(m))
}

type wpEmbedded struct {
	Author        []wpAuthor `json:"author"`
	FeaturedMedia []wpMedia  `json:"wp:featuredmedia"`
	Terms         [][]wpTerm `json:"wp:term"`
}

// wpPost is a REST post resource.
type wpPost struct {
	ID            int64       `json:"id"`
	Date          wpTime      `json:"date_gmt"`
	Modified      wpTime      `json:"modified_gmt"`
	Slug          string      `json:"slug"`
	Status        string      `json:"status"`
	Title         rendered    `json:"title"`
	Content       rendered    `json:"content"`
	Excerpt       rendered    `json:"excerpt"`
	Author        int64       `json:"author"`
	FeaturedMedia int64       `json:"featured_media"`
	Sticky        bool        `json:"sticky"`
	Categories    []int64     `json:"categories"`
	Tags          []int64     `json:"tags"`
	Meta          wpMeta      `json:"meta"`
	Embedded      *wpEmbedded `json:"_embedded,omitempty"`
}

// embeddedTerms indexes embedded terms by id.
func (p *wpPost) embeddedTerms() map[int64]wpTerm {
	out := make(map[int64]wpTerm)
	if p.Embedded == nil {
		return out
	}
	for _, group := range p.Embedded.Terms {
		for _, term := range group {
			out[term.ID] = term
		}
	}
	return out
}

func (p *wpPost) embeddedMedia() string {
	if p.Embedded == nil {
		return ""
	}
	for _, m := range p.Embedded.FeaturedMedia {
		if m.SourceURL != "" && (p.FeaturedMedia == 0 || m.ID == p.FeaturedMedia) {
			return m.SourceURL
		}
	}
	return ""
}

func (p *wpPost) authorName() string {
	if p.Embedded != nil && len(p.Embedded.Author) > 0 && p.Embedded.Author[0].Name != "" {
		return p.Embedded.Author[0].Name
	}
	if p.Author == 0 {
		return ""
	}
	return strconv.FormatInt(p.Author, 10)
}

// toRemoteItem normalizes a REST post. Terms and media must already be resolved.
func (p *wpPost) toRemoteItem(categories, tags []string, image string) models.RemoteItem {
	item := models.RemoteItem{
		RemoteID:    p.ID,
		Title:       html.UnescapeString(p.Title.text()),
		Slug:        p.Slug,
		Excerpt:     p.Excerpt.text(),
		BodyHTML:    p.Content.text(),
		Status:      StatusFromWP(p.Status),
		Featured:    p.Sticky || p.Meta.Featured,
		Categories:  categories,
		Tags:        tags,
		Gallery:     p.Meta.Gallery,
		Author:      p.authorName(),
		ContentType: p.Meta.ContentType,
		Date:        p.Date.Time,
		Modified:    p.Modified.Time,
	}
	if image != "" {
		item.FeaturedImage = models.String(image)
	}
	if item.Gallery == nil {
		item.Gallery = []string{}
	}
	return item
}

// StatusFromWP maps a CMS post status to a local status.
func StatusFromWP(s string) models.Status {
	switch strings.ToLower(s) {
	case wpPublish, string(models.StatusPublished):
		return models.StatusPublished
	case wpTrash, wpPrivate, string(models.StatusArchived):
		return models.StatusArchived
	default:
		return models.StatusDraft
	}
}

// StatusToWP maps a local status to a CMS post status.
func StatusToWP(s models.Status) string {
	switch s {
	case models.StatusPublished:
		return wpPublish
	case models.StatusArchived:
		return wpPrivate
	default:
		return wpDraft
	}
}

// pluginPost is the item shape exchanged over the plugin RPC channel.
type pluginPost struct {
	ID            int64    `json:"id,omitempty"`
	LocalID       string   `json:"local_id,omitempty"`
	Title         string   `json:"title"`
	Slug          string   `json:"slug"`
	Excerpt       string   `json:"excerpt"`
	Content       string   `json:"content"`
	Status        string   `json:"status"`
	Featured      bool     `json:"featured"`
	Category      string   `json:"category,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Tags          []string `json:"tags"`
	FeaturedImage string   `json:"featured_image,omitempty"`
	Gallery       []string `json:"gallery"`
	Author        string   `json:"author,omitempty"`
	ContentType   string   `json:"content_type,omitempty"`
	Date          wpTime   `json:"date"`
	Modified      wpTime   `json:"modified"`
}

func pluginPostFrom(item *models.ContentItem, contentType string) pluginPost {
	out := pluginPost{
		ID:          item.RemoteKey(),
		LocalID:     item.LocalID,
		Title:       item.Title,
		Slug:        item.Slug,
		Excerpt:     item.Excerpt,
		Content:     item.BodyHTML,
		Status:      StatusToWP(item.Status),
		Featured:    item.Featured,
		Category:    item.Taxonomy.Category,
		Tags:        nonNil(item.Taxonomy.Tags),
		Gallery:     nonNil(item.Media.Gallery),
		Author:      item.Author,
		ContentType: contentType,
		Date:        wpTime{item.Timestamps.CreatedAt},
		Modified:    wpTime{item.Timestamps.UpdatedAt},
	}
	if item.Media.FeaturedImage != nil {
		out.FeaturedImage = *item.Media.FeaturedImage
	}
	return out
}

func (p *pluginPost) toRemoteItem() models.RemoteItem {
	categories := p.Categories
	if len(categories) == 0 && p.Category != "" {
		categories = []string{p.Category}
	}

	item := models.RemoteItem{
		RemoteID:    p.ID,
		Title:       html.UnescapeString(p.Title),
		Slug:        p.Slug,
		Excerpt:     p.Excerpt,
		BodyHTML:    p.Content,
		Status:      StatusFromWP(p.Status),
		Featured:    p.Featured,
		Categories:  nonNil(categories),
		Tags:        nonNil(p.Tags),
		Gallery:     nonNil(p.Gallery),
		Author:      p.Author,
		ContentType: p.ContentType,
		Date:        p.Date.Time,
		Modified:    p.Modified.Time,
	}
	if p.FeaturedImage != "" {
		item.FeaturedImage = models.String(p.FeaturedImage)
	}
	return item
}

// restPostBody is the REST write payload.
func restPostBody(item *models.ContentItem, contentType string) map[string]interface{} {
	meta := map[string]interface{}{
		"featured": item.Featured,
		"gallery":  nonNil(item.Media.Gallery),
	}
	if contentType != "" {
		meta["content_type"] = contentType
	}
	return map[string]interface{}{
		"title":   item.Title,
		"slug":    item.Slug,
		"excerpt": item.Excerpt,
		"content": item.BodyHTML,
		"status":  StatusToWP(item.Status),
		"sticky":  item.Featured,
		"meta":    meta,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
