package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Default fake CMS settings, matching config.DefaultConfig.
const (
	RESTPrefix     = "/wp-json/wp/v2"
	PluginEndpoint = "/wp-admin/admin-ajax.php"
	PluginAction   = "news_rpc"

	FakeUsername = "editor"
	FakePassword = "abcd efgh ijkl mnop"
	FakeAPIKey   = "plugin-secret"
)

// FakePost is a post held by the fake CMS.
type FakePost struct {
	ID            int64
	Title         string
	Slug          string
	Excerpt       string
	Content       string
	Status        string // publish, draft, private, trash
	Categories    []int64
	Tags          []int64
	FeaturedMedia int64
	Sticky        bool
	ContentType   string
	Gallery       []string
	Author        int64
	Date          time.Time
	Modified      time.Time
}

// FakeTerm is a category or tag.
type FakeTerm struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type failure struct {
	status int
	body   string
}

// FakeCMS serves the REST and plugin RPC surfaces the remote client uses.
type FakeCMS struct {
	*httptest.Server

	mu         sync.Mutex
	posts      map[int64]*FakePost
	categories map[int64]FakeTerm
	tags       map[int64]FakeTerm
	media      map[int64]string
	authors    map[int64]string
	nextID     int64
	nextTerm   int64

	failNext    map[string][]failure
	failTitle   map[string]failure
	stallNext   map[string][]time.Duration
	calls       map[string]int
	embedTerms  bool
	embedMedia  bool
	pageOverlap bool
	now         func() time.Time
}

// NewFakeCMS starts a fake CMS. Terms and media are embedded by default.
func NewFakeCMS() *FakeCMS {
	f := &FakeCMS{
		posts:      make(map[int64]*FakePost),
		categories: make(map[int64]FakeTerm),
		tags:       make(map[int64]FakeTerm),
		media:      make(map[int64]string),
		authors:    make(map[int64]string),
		nextID:     100,
		nextTerm:   1000,
		failNext:   make(map[string][]failure),
		failTitle:  make(map[string]failure),
		stallNext:  make(map[string][]time.Duration),
		calls:      make(map[string]int),
		embedTerms: true,
		embedMedia: true,
		now:        func() time.Time { return time.Now().UTC() },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(RESTPrefix+"/posts", f.handlePosts)
	mux.HandleFunc(RESTPrefix+"/posts/", f.handlePost)
	mux.HandleFunc(RESTPrefix+"/media/", f.handleMedia)
	mux.HandleFunc(RESTPrefix+"/categories", f.handleTerms("categories"))
	mux.HandleFunc(RESTPrefix+"/tags", f.handleTerms("tags"))
	mux.HandleFunc(PluginEndpoint, f.handlePlugin)

	f.Server = httptest.NewServer(mux)
	return f
}

// AddCategory registers a category.
func (f *FakeCMS) AddCategory(id int64, slug, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[id] = FakeTerm{ID: id, Slug: slug, Name: name}
}

// AddTag registers a tag.
func (f *FakeCMS) AddTag(id int64, slug, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[id] = FakeTerm{ID: id, Slug: slug, Name: name}
}

// AddMedia registers a media item.
func (f *FakeCMS) AddMedia(id int64, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[id] = url
}

// AddAuthor registers a user.
func (f *FakeCMS) AddAuthor(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authors[id] = name
}

// AddPost stores a post and returns its id.
func (f *FakeCMS) AddPost(p FakePost) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p.ID == 0 {
		f.nextID++
		p.ID = f.nextID
	} else if p.ID > f.nextID {
		f.nextID = p.ID
	}
	if p.Status == "" {
		p.Status = "publish"
	}
	if p.Date.IsZero() {
		p.Date = f.now()
	}
	if p.Modified.IsZero() {
		p.Modified = p.Date
	}
	f.posts[p.ID] = &p
	return p.ID
}

// Post returns a copy of a stored post.
func (f *FakeCMS) Post(id int64) (FakePost, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return FakePost{}, false
	}
	return *p, true
}

// Posts returns all posts ordered by id.
func (f *FakeCMS) Posts() []FakePost {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakePost, 0, len(f.posts))
	for _, id := range f.sortedIDs() {
		out = append(out, *f.posts[id])
	}
	return out
}

// SetNextID makes the next created post receive id.
func (f *FakeCMS) SetNextID(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID = id - 1
}

// EmbedTerms toggles embedding wp:term in listings.
func (f *FakeCMS) EmbedTerms(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedTerms = on
}

// EmbedMedia toggles embedding wp:featuredmedia in listings.
func (f *FakeCMS) EmbedMedia(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedMedia = on
}

// OverlapPages repeats the last post of each page at the start of the next.
func (f *FakeCMS) OverlapPages(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageOverlap = on
}

// FailNext makes the next call of op reply with status and body. Ops are
// list, rest_get, media, terms, rest_update, rest_delete, and the plugin actions.
func (f *FakeCMS) FailNext(op string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = append(f.failNext[op], failure{status: status, body: body})
}

// FailTitle makes every plugin write of title reply with status and body.
func (f *FakeCMS) FailTitle(title string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTitle[title] = failure{status: status, body: body}
}

// StallNext delays the next call of op by d.
func (f *FakeCMS) StallNext(op string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stallNext[op] = append(f.stallNext[op], d)
}

// Calls returns how many times op was requested.
func (f *FakeCMS) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter counts op and applies any queued stall or failure. It reports
// whether the handler should continue.
func (f *FakeCMS) enter(w http.ResponseWriter, r *http.Request, op string) bool {
	f.mu.Lock()
	f.calls[op]++
	var stall time.Duration
	if q := f.stallNext[op]; len(q) > 0 {
		stall, f.stallNext[op] = q[0], q[1:]
	}
	var fail *failure
	if q := f.failNext[op]; len(q) > 0 {
		fail = &q[0]
		f.failNext[op] = q[1:]
	}
	f.mu.Unlock()

	if stall > 0 {
		select {
		case <-time.After(stall):
		case <-r.Context().Done():
			return false
		}
	}
	if fail != nil {
		writeRaw(w, fail.status, fail.body)
		return false
	}
	return true
}

func (f *FakeCMS) authorized(w http.ResponseWriter, r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok || user != FakeUsername || pass != FakePassword {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"code":    "rest_not_logged_in",
			"message": "You are not currently logged in.",
			"data":    map[string]int{"status": http.StatusUnauthorized},
		})
		return false
	}
	return true
}

func (f *FakeCMS) handlePosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !f.enter(w, r, "list") || !f.authorized(w, r) {
		return
	}

	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	perPage := atoiDefault(q.Get("per_page"), 10)
	status := q.Get("status")

	var after time.Time
	if raw := q.Get("modified_after"); raw != "" {
		after, _ = time.Parse(time.RFC3339, raw)
	}

	f.mu.Lock()
	var matched []*FakePost
	for _, id := range f.sortedIDs() {
		p := f.posts[id]
		if !statusMatches(p.Status, status) {
			continue
		}
		if !after.IsZero() && !p.Modified.After(after) {
			continue
		}
		matched = append(matched, p)
	}

	total := len(matched)
	pages := (total + perPage - 1) / perPage
	if page > 1 && page > pages {
		f.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code":    "rest_post_invalid_page_number",
			"message": "The page number requested is larger than the number of pages available.",
		})
		return
	}

	start := (page - 1) * perPage
	end := start + perPage
	if end > total {
		end = total
	}
	if f.pageOverlap && page > 1 && start > 0 {
		start--
	}

	out := make([]map[string]interface{}, 0, end-start)
	if start < end {
		for _, p := range matched[start:end] {
			out = append(out, f.render(p, q.Get("_embed") != ""))
		}
	}
	f.mu.Unlock()

	w.Header().Set("X-WP-Total", strconv.Itoa(total))
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(pages))
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeCMS) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, RESTPrefix+"/posts/"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	op := map[string]string{
		http.MethodGet:    "rest_get",
		http.MethodPost:   "rest_update",
		http.MethodPut:    "rest_update",
		http.MethodDelete: "rest_delete",
	}[r.Method]
	if op == "" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !f.enter(w, r, op) || !f.authorized(w, r) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.posts[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code":    "rest_post_invalid_id",
			"message": "Invalid post ID.",
		})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, f.render(p, true))

	case http.MethodDelete:
		rendered := f.render(p, false)
		delete(f.posts, id)
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "previous": rendered})

	default:
		var body struct {
			Title   *string `json:"title"`
			Slug    *string `json:"slug"`
			Excerpt *string `json:"excerpt"`
			Content *string `json:"content"`
			Status  *string `json:"status"`
			Sticky  *bool   `json:"sticky"`
			Meta    struct {
				ContentType string   `json:"content_type"`
				Gallery     []string `json:"gallery"`
			} `json:"meta"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "rest_invalid_json", "message": err.Error()})
			return
		}
		setString(&p.Title, body.Title)
		setString(&p.Slug, body.Slug)
		setString(&p.Excerpt, body.Excerpt)
		setString(&p.Content, body.Content)
		setString(&p.Status, body.Status)
		if body.Sticky != nil {
			p.Sticky = *body.Sticky
		}
		if body.Meta.ContentType != "" {
			p.ContentType = body.Meta.ContentType
		}
		if body.Meta.Gallery != nil {
			p.Gallery = body.Meta.Gallery
		}
		p.Modified = f.now()
		writeJSON(w, http.StatusOK, f.render(p, false))
	}
}

func (f *FakeCMS) handleMedia(w http.ResponseWriter, r *http.Request) {
	if !f.enter(w, r, "media") || !f.authorized(w, r) {
		return
	}

	id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, RESTPrefix+"/media/"), 10, 64)

	f.mu.Lock()
	src, ok := f.media[id]
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "rest_post_invalid_id", "message": "Invalid post ID."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "source_url": src})
}

func (f *FakeCMS) handleTerms(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !f.enter(w, r, "terms") || !f.authorized(w, r) {
			return
		}

		f.mu.Lock()
		source := f.categories
		if kind == "tags" {
			source = f.tags
		}
		var out []FakeTerm
		for _, raw := range strings.Split(r.URL.Query().Get("include"), ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				continue
			}
			if t, ok := source[id]; ok {
				out = append(out, t)
			}
		}
		f.mu.Unlock()

		if out == nil {
			out = []FakeTerm{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// pluginPost mirrors the plugin's item shape.
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
	Date          string   `json:"date,omitempty"`
	Modified      string   `json:"modified,omitempty"`
}

func (f *FakeCMS) handlePlugin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Query().Get("action") != PluginAction {
		writeRaw(w, http.StatusBadRequest, "0")
		return
	}

	var req struct {
		Action string          `json:"action"`
		APIKey string          `json:"apiKey"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pluginError(w, http.StatusBadRequest, "Malformed request")
		return
	}

	if !f.enter(w, r, req.Action) {
		return
	}
	if req.APIKey != FakeAPIKey {
		pluginError(w, http.StatusForbidden, "Invalid API key")
		return
	}

	switch req.Action {
	case "create", "update":
		var post pluginPost
		if err := json.Unmarshal(req.Data, &post); err != nil {
			pluginError(w, http.StatusBadRequest, "Malformed item")
			return
		}
		f.pluginWrite(w, req.Action, post)

	case "delete":
		var ref struct {
			ID int64 `json:"id"`
		}
		_ = json.Unmarshal(req.Data, &ref)
		f.mu.Lock()
		_, ok := f.posts[ref.ID]
		delete(f.posts, ref.ID)
		f.mu.Unlock()
		if !ok {
			pluginError(w, http.StatusNotFound, "Post not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]int64{"id": ref.ID}})

	case "get":
		var ref struct {
			ID int64 `json:"id"`
		}
		_ = json.Unmarshal(req.Data, &ref)
		f.mu.Lock()
		p, ok := f.posts[ref.ID]
		var out pluginPost
		if ok {
			out = f.toPlugin(p)
		}
		f.mu.Unlock()
		if !ok {
			pluginError(w, http.StatusNotFound, "Post not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": out})

	case "sync":
		f.mu.Lock()
		items := make([]pluginPost, 0, len(f.posts))
		for _, id := range f.sortedIDs() {
			p := f.posts[id]
			if p.Status == "trash" || (p.ContentType != "" && p.ContentType != "news") {
				continue
			}
			items = append(items, f.toPlugin(p))
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]interface{}{"items": items}})

	default:
		pluginError(w, http.StatusBadRequest, "Unknown action")
	}
}

func (f *FakeCMS) pluginWrite(w http.ResponseWriter, action string, in pluginPost) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fail, ok := f.failTitle[in.Title]; ok {
		writeRaw(w, fail.status, fail.body)
		return
	}

	for _, p := range f.posts {
		if p.Title == in.Title && p.ID != in.ID && p.Status != "trash" {
			// Plugin rejections arrive with HTTP 200.
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": false,
				"data":    map[string]string{"message": "A post with this title already exists"},
			})
			return
		}
	}

	var p *FakePost
	if action == "update" {
		existing, ok := f.posts[in.ID]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"success": false,
				"data":    map[string]string{"message": "Post not found"},
			})
			return
		}
		p = existing
	} else {
		f.nextID++
		p = &FakePost{ID: f.nextID, Date: f.now()}
		f.posts[p.ID] = p
	}

	p.Title = in.Title
	p.Slug = in.Slug
	p.Excerpt = in.Excerpt
	p.Content = in.Content
	p.Status = in.Status
	p.Sticky = in.Featured
	p.ContentType = in.ContentType
	p.Gallery = in.Gallery
	p.Modified = f.now()
	p.Categories = nil
	if in.Category != "" {
		p.Categories = []int64{f.ensureTerm(f.categories, in.Category)}
	}
	p.Tags = nil
	for _, tag := range in.Tags {
		p.Tags = append(p.Tags, f.ensureTerm(f.tags, tag))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    map[string]int64{"remoteId": p.ID},
	})
}

// ensureTerm returns the id of the term with slug or name, creating it.
func (f *FakeCMS) ensureTerm(terms map[int64]FakeTerm, label string) int64 {
	for id, t := range terms {
		if t.Slug == label || t.Name == label {
			return id
		}
	}
	f.nextTerm++
	terms[f.nextTerm] = FakeTerm{ID: f.nextTerm, Slug: strings.ToLower(strings.ReplaceAll(label, " ", "-")), Name: label}
	return f.nextTerm
}

func (f *FakeCMS) toPlugin(p *FakePost) pluginPost {
	out := pluginPost{
		ID:          p.ID,
		Title:       p.Title,
		Slug:        p.Slug,
		Excerpt:     p.Excerpt,
		Content:     p.Content,
		Status:      p.Status,
		Featured:    p.Sticky,
		Tags:        []string{},
		Gallery:     p.Gallery,
		Author:      f.authors[p.Author],
		ContentType: p.ContentType,
		Date:        p.Date.UTC().Format("2006-01-02T15:04:05"),
		Modified:    p.Modified.UTC().Format("2006-01-02T15:04:05"),
	}
	for _, id := range p.Categories {
		if t, ok := f.categories[id]; ok {
			out.Categories = append(out.Categories, t.Slug)
		}
	}
	for _, id := range p.Tags {
		if t, ok := f.tags[id]; ok {
			out.Tags = append(out.Tags, t.Name)
		}
	}
	if src, ok := f.media[p.FeaturedMedia]; ok {
		out.FeaturedImage = src
	}
	if out.Gallery == nil {
		out.Gallery = []string{}
	}
	return out
}

// render produces the REST representation of p. Callers hold f.mu.
func (f *FakeCMS) render(p *FakePost, embed bool) map[string]interface{} {
	meta := map[string]interface{}{}
	if p.ContentType != "" {
		meta["content_type"] = p.ContentType
	}
	if p.Gallery != nil {
		meta["gallery"] = p.Gallery
	}

	out := map[string]interface{}{
		"id":             p.ID,
		"date_gmt":       p.Date.UTC().Format("2006-01-02T15:04:05"),
		"modified_gmt":   p.Modified.UTC().Format("2006-01-02T15:04:05"),
		"slug":           p.Slug,
		"status":         p.Status,
		"title":          map[string]string{"rendered": p.Title},
		"content":        map[string]string{"rendered": p.Content},
		"excerpt":        map[string]string{"rendered": p.Excerpt},
		"author":         p.Author,
		"featured_media": p.FeaturedMedia,
		"sticky":         p.Sticky,
		"categories":     nonNilIDs(p.Categories),
		"tags":           nonNilIDs(p.Tags),
	}
	if len(meta) == 0 {
		out["meta"] = []interface{}{}
	} else {
		out["meta"] = meta
	}

	if !embed {
		return out
	}

	embedded := map[string]interface{}{}
	if name, ok := f.authors[p.Author]; ok {
		embedded["author"] = []map[string]interface{}{{"id": p.Author, "name": name}}
	}
	if f.embedMedia {
		if src, ok := f.media[p.FeaturedMedia]; ok {
			embedded["wp:featuredmedia"] = []map[string]interface{}{{"id": p.FeaturedMedia, "source_url": src}}
		}
	}
	if f.embedTerms {
		cats := []map[string]interface{}{}
		for _, id := range p.Categories {
			if t, ok := f.categories[id]; ok {
				cats = append(cats, map[string]interface{}{"id": t.ID, "slug": t.Slug, "name": t.Name, "taxonomy": "category"})
			}
		}
		tags := []map[string]interface{}{}
		for _, id := range p.Tags {
			if t, ok := f.tags[id]; ok {
				tags = append(tags, map[string]interface{}{"id": t.ID, "slug": t.Slug, "name": t.Name, "taxonomy": "post_tag"})
			}
		}
		embedded["wp:term"] = [][]map[string]interface{}{cats, tags}
	}
	out["_embedded"] = embedded
	return out
}

func (f *FakeCMS) sortedIDs() []int64 {
	ids := make([]int64, 0, len(f.posts))
	for id := range f.posts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func statusMatches(status, filter string) bool {
	if filter == "" {
		return status == "publish"
	}
	if filter == "any" {
		return status != "trash"
	}
	for _, s := range strings.Split(filter, ",") {
		if s == status {
			return true
		}
	}
	return false
}

func pluginError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"data":    map[string]string{"message": msg},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("fake cms: marshal: %v", err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
