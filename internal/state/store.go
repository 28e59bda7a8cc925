package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
)

// Store persists sync checkpoints, one per remote site.
type Store interface {
	// Load retrieves the checkpoint for a site.
	Load(ctx context.Context, site string) (*models.SyncCheckpoint, error)

	// Save persists a checkpoint under its Site.
	Save(ctx context.Context, cp *models.SyncCheckpoint) error

	// Reset removes the checkpoint for a site.
	Reset(ctx context.Context, site string) error

	// List returns all known sites.
	List(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state file is corrupt")
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// envelope wraps a checkpoint with store metadata.
type envelope struct {
	Checkpoint    *models.SyncCheckpoint `json:"checkpoint"`
	SchemaVersion int                    `json:"schema_version"`
	SavedAt       time.Time              `json:"saved_at"`
	Checksum      string                 `json:"checksum,omitempty"`
}

var siteUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// SiteKey derives a stable store key from a remote base URL.
func SiteKey(baseURL string) string {
	if baseURL == "" {
		return "local"
	}

	raw := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		raw = u.Host + u.Path
	}

	key := siteUnsafe.ReplaceAllString(strings.ToLower(raw), "_")
	key = strings.Trim(key, "_.")
	if key == "" {
		return "local"
	}
	return key
}

// Open creates the store selected by cfg.
func Open(ctx context.Context, cfg config.StateConfig, logger *events.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "json":
		return NewJSONStore(cfg.Path, logger)
	case "sqlite":
		return NewSQLiteStore(cfg.Path, logger)
	case "dynamodb":
		return NewDynamoDBStore(ctx, cfg.TableName, logger)
	default:
		return nil, fmt.Errorf("unknown state backend %q: %w", cfg.Backend, models.ErrInvalidConfig)
	}
}

// Migrate copies every checkpoint from src to dst and returns the count.
func Migrate(ctx context.Context, src, dst Store) (int, error) {
	sites, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sites: %w", err)
	}

	copied := 0
	for _, site := range sites {
		cp, err := src.Load(ctx, site)
		if err != nil {
			return copied, fmt.Errorf("load site %s: %w", site, err)
		}
		if err := dst.Save(ctx, cp); err != nil {
			return copied, fmt.Errorf("save site %s: %w", site, err)
		}
		copied++
	}

	return copied, nil
}
