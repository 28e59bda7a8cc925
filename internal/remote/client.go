// Package remote talks to the CMS over its REST API and the news plugin's
// RPC endpoint, normalizing both into models.RemoteItem.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/creds"
	"github.com/TheMichaelB/newsync/internal/crypto"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/transport"
)

// NewsContentType is the marker value of items that belong to the catalog.
const NewsContentType = "news"

// Channels reported in PushResult.
const (
	ChannelPlugin = "plugin"
	ChannelREST   = "rest"
)

// Client issues authenticated calls to the remote CMS.
type Client struct {
	http   transport.Doer
	creds  *crypto.CredentialCache[*creds.Bundle]
	cfg    config.RemoteConfig
	logger *events.Logger
}

// NewClient creates a remote client. Credentials are read from cache before
// each call batch; RefreshCredentials reloads them.
func NewClient(doer transport.Doer, cache *crypto.CredentialCache[*creds.Bundle], cfg *config.RemoteConfig, logger *events.Logger) *Client {
	return &Client{
		http:   doer,
		creds:  cache,
		cfg:    *cfg,
		logger: logger.WithField("component", "remote"),
	}
}

// NewCredentialCache wires a credential store into a TTL cache.
func NewCredentialCache(store *creds.Store, ttl time.Duration) *crypto.CredentialCache[*creds.Bundle] {
	return crypto.NewCredentialCache(ttl, store.Load)
}

// RefreshCredentials reloads and decrypts the credential files.
func (c *Client) RefreshCredentials(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("remote base url: %w", models.ErrConfigMissing)
	}
	if _, err := c.creds.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh credentials: %w", err)
	}
	return nil
}

// InvalidateCredentials drops any cached credentials.
func (c *Client) InvalidateCredentials() {
	c.creds.Invalidate()
}

func (c *Client) bundle(ctx context.Context) (*creds.Bundle, error) {
	if c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base url: %w", models.ErrConfigMissing)
	}
	b, err := c.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("credentials: %w", models.ErrConfigMissing)
	}
	return b, nil
}

func basicAuth(b *creds.Bundle) *transport.BasicAuth {
	return &transport.BasicAuth{
		Username: b.Remote.Username,
		Password: b.Remote.ApplicationPassword,
	}
}

// Push writes item to the remote. Create always goes through the plugin so
// server-side rules such as duplicate-title rejection apply; update prefers
// the plugin and falls back to REST.
func (c *Client) Push(ctx context.Context, item *models.ContentItem, mode models.PushMode) (*models.PushResult, error) {
	b, err := c.bundle(ctx)
	if err != nil {
		return nil, err
	}

	switch mode {
	case models.ModeCreate:
		if !b.HasPlugin() {
			return nil, fmt.Errorf("create %s: %w", item.LocalID, models.ErrPluginNotConfigured)
		}
		return c.pluginWrite(ctx, b, "create", item)

	case models.ModeUpdate:
		if !item.HasRemote() {
			return nil, fmt.Errorf("update %s: no remote id: %w", item.LocalID, models.ErrInvalidItem)
		}
		if b.HasPlugin() {
			return c.pluginWrite(ctx, b, "update", item)
		}
		if !b.HasBasicAuth() {
			return nil, fmt.Errorf("update %s: %w", item.LocalID, models.ErrConfigMissing)
		}
		return c.restUpdate(ctx, b, item)

	default:
		return nil, fmt.Errorf("unknown push mode %q", mode)
	}
}

// Delete removes a remote post, via the plugin when configured and REST otherwise.
func (c *Client) Delete(ctx context.Context, remoteID int64) error {
	b, err := c.bundle(ctx)
	if err != nil {
		return err
	}

	if b.HasPlugin() {
		_, err := c.plugin(ctx, b, "delete", map[string]int64{"id": remoteID}, c.cfg.LightTimeout)
		return err
	}
	if !b.HasBasicAuth() {
		return fmt.Errorf("delete %d: %w", remoteID, models.ErrConfigMissing)
	}
	return c.restDelete(ctx, b, remoteID)
}

// Get fetches one post by remote id.
func (c *Client) Get(ctx context.Context, remoteID int64) (*models.RemoteItem, error) {
	b, err := c.bundle(ctx)
	if err != nil {
		return nil, err
	}

	if b.HasPlugin() {
		return c.pluginGet(ctx, b, remoteID)
	}
	if !b.HasBasicAuth() {
		return nil, fmt.Errorf("get %d: %w", remoteID, models.ErrConfigMissing)
	}
	return c.restGet(ctx, b, remoteID)
}
