package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TheMichaelB/newsync/internal/creds"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/transport"
)

const (
	totalHeader = "X-WP-Total"
	maxPages    = 500
	termBatch   = 100
)

// PullFilter narrows a pull.
type PullFilter struct {
	Status        string // CMS status filter; "any" for all
	Page          int    // fetch only this page when > 0
	PageSize      int
	ModifiedAfter *time.Time
	Images        bool // resolve featured media
}

// termCache resolves term ids to terms for the duration of one pull.
type termCache struct {
	categories map[int64]wpTerm
	tags       map[int64]wpTerm
}

func newTermCache() *termCache {
	return &termCache{
		categories: make(map[int64]wpTerm),
		tags:       make(map[int64]wpTerm),
	}
}

// Pull lists posts over REST, following pagination by the total-count header.
// Without REST credentials it falls back to the plugin's sync action.
func (c *Client) Pull(ctx context.Context, filter PullFilter) ([]models.RemoteItem, error) {
	b, err := c.bundle(ctx)
	if err != nil {
		return nil, err
	}

	if filter.PageSize <= 0 {
		filter.PageSize = c.cfg.PageSize
	}
	if filter.Status == "" {
		filter.Status = "any"
	}

	if !b.HasBasicAuth() {
		if b.HasPlugin() {
			return c.pluginSync(ctx, b, filter)
		}
		return nil, fmt.Errorf("pull: %w", models.ErrConfigMissing)
	}

	terms := newTermCache()
	logger := c.logger.WithField("page_size", filter.PageSize)

	first, last := 1, maxPages
	if filter.Page > 0 {
		first, last = filter.Page, filter.Page
	}

	var items []models.RemoteItem
	for page := first; page <= last; page++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		posts, total, err := c.listPage(ctx, b, filter, page)
		if err != nil {
			return items, fmt.Errorf("pull page %d: %w", page, err)
		}

		logger.WithFields(map[string]interface{}{
			"page":  page,
			"count": len(posts),
			"total": total,
		}).Debug("Fetched page")

		if len(posts) == 0 {
			break
		}

		if err := c.resolveTerms(ctx, b, posts, terms); err != nil {
			return items, err
		}

		for i := range posts {
			items = append(items, c.normalize(ctx, b, &posts[i], terms, filter.Images))
		}

		if total >= 0 {
			pages := (total + filter.PageSize - 1) / filter.PageSize
			if page >= pages {
				break
			}
		} else if len(posts) < filter.PageSize {
			break
		}
	}

	logger.WithField("items", len(items)).Info("Pull complete")
	return items, nil
}

// listPage returns one page of posts and the total count, or -1 when the
// header is missing.
func (c *Client) listPage(ctx context.Context, b *creds.Bundle, filter PullFilter, page int) ([]wpPost, int, error) {
	query := url.Values{
		"status":   {filter.Status},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(filter.PageSize)},
		"_embed":   {"1"},
	}
	if filter.ModifiedAfter != nil {
		query.Set("modified_after", filter.ModifiedAfter.UTC().Format(time.RFC3339))
	}

	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    c.restPath("/posts"),
		Query:   query,
		Auth:    basicAuth(b),
		Timeout: c.cfg.PullTimeout,
	})
	if err != nil {
		return nil, 0, err
	}

	var posts []wpPost
	if err := resp.DecodeJSON(&posts); err != nil {
		return nil, 0, err
	}

	total := -1
	if raw := resp.Header.Get(totalHeader); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			total = n
		}
	}

	return posts, total, nil
}

func (c *Client) normalize(ctx context.Context, b *creds.Bundle, post *wpPost, terms *termCache, images bool) models.RemoteItem {
	categories := make([]string, 0, len(post.Categories))
	for _, id := range post.Categories {
		categories = append(categories, termLabel(terms.categories, id, true))
	}
	tags := make([]string, 0, len(post.Tags))
	for _, id := range post.Tags {
		tags = append(tags, termLabel(terms.tags, id, false))
	}

	var image string
	if images {
		image = c.resolveMedia(ctx, b, post)
	}

	return post.toRemoteItem(categories, tags, image)
}

// termLabel returns the category slug or tag name, or the raw id when unresolved.
func termLabel(known map[int64]wpTerm, id int64, slug bool) string {
	term, ok := known[id]
	if !ok {
		return strconv.FormatInt(id, 10)
	}
	if slug || term.Name == "" {
		return term.Slug
	}
	return term.Name
}

// resolveMedia follows the embedded link first, then one media lookup.
func (c *Client) resolveMedia(ctx context.Context, b *creds.Bundle, post *wpPost) string {
	if src := post.embeddedMedia(); src != "" {
		return src
	}
	if post.FeaturedMedia == 0 {
		return ""
	}

	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    c.restPath("/media/" + strconv.FormatInt(post.FeaturedMedia, 10)),
		Auth:    basicAuth(b),
		Timeout: c.cfg.LightTimeout,
	})
	if err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"remote_id": post.ID,
			"media_id":  post.FeaturedMedia,
		}).Warn("Media lookup failed")
		return ""
	}

	var media wpMedia
	if err := resp.DecodeJSON(&media); err != nil {
		return ""
	}
	return media.SourceURL
}

// resolveTerms fills the cache from embedded terms, then fetches the rest.
func (c *Client) resolveTerms(ctx context.Context, b *creds.Bundle, posts []wpPost, terms *termCache) error {
	var missingCats, missingTags []int64

	for i := range posts {
		embedded := posts[i].embeddedTerms()
		for _, id := range posts[i].Categories {
			if t, ok := embedded[id]; ok {
				terms.categories[id] = t
			} else if _, ok := terms.categories[id]; !ok {
				missingCats = append(missingCats, id)
			}
		}
		for _, id := range posts[i].Tags {
			if t, ok := embedded[id]; ok {
				terms.tags[id] = t
			} else if _, ok := terms.tags[id]; !ok {
				missingTags = append(missingTags, id)
			}
		}
	}

	if err := c.fetchTerms(ctx, b, "/categories", dedupIDs(missingCats), terms.categories); err != nil {
		return err
	}
	return c.fetchTerms(ctx, b, "/tags", dedupIDs(missingTags), terms.tags)
}

func (c *Client) fetchTerms(ctx context.Context, b *creds.Bundle, resource string, ids []int64, into map[int64]wpTerm) error {
	for start := 0; start < len(ids); start += termBatch {
		end := start + termBatch
		if end > len(ids) {
			end = len(ids)
		}

		include := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			include = append(include, strconv.FormatInt(id, 10))
		}

		resp, err := c.http.Do(ctx, transport.Request{
			Method: http.MethodGet,
			Path:   c.restPath(resource),
			Query: url.Values{
				"include":  {strings.Join(include, ",")},
				"per_page": {strconv.Itoa(termBatch)},
			},
			Auth:    basicAuth(b),
			Timeout: c.cfg.LightTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Unresolved terms fall back to raw ids.
			c.logger.WithError(err).WithField("resource", resource).Warn("Term lookup failed")
			return nil
		}

		var found []wpTerm
		if err := resp.DecodeJSON(&found); err != nil {
			return nil
		}
		for _, t := range found {
			into[t.ID] = t
		}
	}
	return nil
}

func dedupIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

func (c *Client) restUpdate(ctx context.Context, b *creds.Bundle, item *models.ContentItem) (*models.PushResult, error) {
	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    c.restPath("/posts/" + strconv.FormatInt(item.RemoteKey(), 10)),
		Body:    restPostBody(item, NewsContentType),
		Auth:    basicAuth(b),
		Timeout: c.cfg.PushTimeout,
	})
	if err != nil {
		return nil, err
	}

	var post wpPost
	if err := resp.DecodeJSON(&post); err != nil {
		return nil, err
	}
	id := post.ID
	if id == 0 {
		id = item.RemoteKey()
	}
	return &models.PushResult{RemoteID: id, Channel: ChannelREST}, nil
}

func (c *Client) restDelete(ctx context.Context, b *creds.Bundle, remoteID int64) error {
	_, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodDelete,
		Path:    c.restPath("/posts/" + strconv.FormatInt(remoteID, 10)),
		Query:   url.Values{"force": {"true"}},
		Auth:    basicAuth(b),
		Timeout: c.cfg.LightTimeout,
	})
	return err
}

func (c *Client) restGet(ctx context.Context, b *creds.Bundle, remoteID int64) (*models.RemoteItem, error) {
	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    c.restPath("/posts/" + strconv.FormatInt(remoteID, 10)),
		Query:   url.Values{"_embed": {"1"}},
		Auth:    basicAuth(b),
		Timeout: c.cfg.LightTimeout,
	})
	if err != nil {
		return nil, err
	}

	var post wpPost
	if err := resp.DecodeJSON(&post); err != nil {
		return nil, err
	}

	terms := newTermCache()
	posts := []wpPost{post}
	if err := c.resolveTerms(ctx, b, posts, terms); err != nil {
		return nil, err
	}
	item := c.normalize(ctx, b, &posts[0], terms, true)
	return &item, nil
}

func (c *Client) restPath(resource string) string {
	return strings.TrimRight(c.cfg.RESTPrefix, "/") + resource
}
