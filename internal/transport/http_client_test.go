package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/transport"
)

func newClient(t *testing.T, baseURL string) *transport.HTTPClient {
	t.Helper()

	cfg := config.DefaultConfig().Remote
	cfg.BaseURL = baseURL
	cfg.RetryDelay = time.Millisecond

	return transport.NewHTTPClient(&cfg, events.Discard())
}

func TestHTTPClientDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wp/v2/posts", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "newsync/1.0", r.Header.Get("User-Agent"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "editor", user)
		assert.Equal(t, "app-pass", pass)

		w.Header().Set("X-WP-Total", "3")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1}]`))
	}))
	defer server.Close()

	client := newClient(t, server.URL+"/")

	resp, err := client.Do(context.Background(), transport.Request{
		Method: http.MethodGet,
		Path:   "/wp-json/wp/v2/posts",
		Query:  url.Values{"page": {"2"}},
		Auth:   &transport.BasicAuth{Username: "editor", Password: "app-pass"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-WP-Total"))

	var posts []map[string]int
	require.NoError(t, resp.DecodeJSON(&posts))
	assert.Equal(t, 1, posts[0]["id"])
}

func TestHTTPClientJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "create", body["action"])

		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	_, err := client.Do(context.Background(), transport.Request{
		Method: http.MethodPost,
		Path:   "/wp-admin/admin-ajax.php",
		Body:   map[string]string{"action": "create"},
	})
	require.NoError(t, err)
}

func TestHTTPClientAPIError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"duplicate_title","message":"A post with this title already exists"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	_, err := client.Do(context.Background(), transport.Request{Method: http.MethodPost, Path: "/x"})
	require.Error(t, err)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "duplicate_title", apiErr.Code)
	assert.Equal(t, "A post with this title already exists", apiErr.Message)
	assert.Contains(t, apiErr.Body, "duplicate_title")
	assert.Equal(t, models.KindRemoteRejected, models.Classify(err))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestHTTPClientServerErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	_, err := client.Do(context.Background(), transport.Request{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP_502", apiErr.Code)
	assert.Equal(t, "upstream down", apiErr.Body)
	assert.Equal(t, models.KindRemoteServerError, models.Classify(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPClientTimeoutRetriedOnce(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	_, err := client.Do(context.Background(), transport.Request{
		Method:  http.MethodGet,
		Path:    "/slow",
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)

	assert.Equal(t, models.KindRemoteUnreachable, models.Classify(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "one retry after a transport timeout")
}

func TestHTTPClientRetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(100 * time.Millisecond)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)

	resp, err := client.Do(context.Background(), transport.Request{
		Method:  http.MethodGet,
		Path:    "/flaky",
		Timeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPClientMissingBaseURL(t *testing.T) {
	client := newClient(t, "")

	_, err := client.Do(context.Background(), transport.Request{Method: http.MethodGet, Path: "/posts"})
	assert.ErrorIs(t, err, models.ErrConfigMissing)
}
