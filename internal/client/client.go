// Package client assembles the newsync components from configuration.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/creds"
	"github.com/TheMichaelB/newsync/internal/crypto"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/remote"
	"github.com/TheMichaelB/newsync/internal/repository"
	"github.com/TheMichaelB/newsync/internal/services/backup"
	"github.com/TheMichaelB/newsync/internal/services/sync"
	"github.com/TheMichaelB/newsync/internal/state"
	"github.com/TheMichaelB/newsync/internal/storage"
	"github.com/TheMichaelB/newsync/internal/transport"
)

// Client provides the high-level API used by the CLI and the HTTP server.
type Client struct {
	Repo    *repository.Repository
	Remote  *remote.Client
	Creds   *creds.Store
	Backups *backup.Manager
	Sync    *sync.Service
	States  state.Store

	config *config.Config
	logger *events.Logger
}

// New wires a client. A missing master secret is not an error here; the
// credential store stays locked and remote calls report ConfigMissing.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	data, err := storage.NewLocalStore(cfg.Storage.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}

	cipher, err := newCipher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	credStore := creds.NewStore(data, cipher, cfg.Storage.CredentialsFile, cfg.Storage.PluginFile, logger)

	repo := repository.New(data, cfg.Storage.NewsFile, cfg.Storage.TrashFile, logger)

	backupStore, err := newBackupStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	backups := backup.NewManager(repo, backupStore, cfg.Backup, logger)

	httpClient := transport.NewHTTPClient(&cfg.Remote, logger)
	cache := remote.NewCredentialCache(credStore, cfg.Remote.CredentialTTL)
	remoteClient := remote.NewClient(httpClient, cache, &cfg.Remote, logger)

	states, err := state.Open(ctx, cfg.State, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	engine := sync.NewEngine(remoteClient, repo, backups, cfg.Sync, logger)
	site := state.SiteKey(cfg.Remote.BaseURL)

	return &Client{
		Repo:    repo,
		Remote:  remoteClient,
		Creds:   credStore,
		Backups: backups,
		Sync:    sync.NewService(engine, states, site, logger),
		States:  states,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config {
	return c.config
}

// Close releases the state store.
func (c *Client) Close() error {
	return c.States.Close()
}

func newCipher(ctx context.Context, cfg *config.Config, logger *events.Logger) (crypto.SecretCipher, error) {
	secret, err := creds.MasterSecret(ctx, cfg.Security)
	if errors.Is(err, models.ErrConfigMissing) {
		logger.Debug("No master secret configured, credentials locked")
		return lockedCipher{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve master secret: %w", err)
	}

	return crypto.NewVault(secret,
		crypto.WithIterations(cfg.Security.KDFIterations),
		crypto.WithLogger(logger),
	)
}

// newBackupStore returns the local backup directory, mirrored to S3 when a
// bucket is configured.
func newBackupStore(ctx context.Context, cfg *config.Config, logger *events.Logger) (storage.BlobStore, error) {
	local, err := storage.NewLocalStore(cfg.Storage.BackupDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open backup dir: %w", err)
	}
	if cfg.Backup.S3Bucket == "" {
		return local, nil
	}

	logger.WithField("bucket", cfg.Backup.S3Bucket).Info("Mirroring backups to S3")
	s3Store, err := storage.NewS3Store(ctx, cfg.Backup.S3Bucket, cfg.Backup.S3Prefix, logger)
	if err != nil {
		return nil, fmt.Errorf("create s3 store: %w", err)
	}
	return storage.NewMirrorStore(local, s3Store, logger), nil
}

// lockedCipher stands in for the vault when no master secret is known.
type lockedCipher struct{}

var _ crypto.SecretCipher = lockedCipher{}

func (lockedCipher) EnsureEncrypted(string) (string, error) {
	return "", fmt.Errorf("master secret: %w", models.ErrConfigMissing)
}

func (lockedCipher) TryDecrypt(string) (string, error) {
	return "", fmt.Errorf("master secret: %w", models.ErrConfigMissing)
}

func (lockedCipher) Decrypt(string) string { return "" }

func (lockedCipher) IsEncrypted(value string) bool {
	return strings.HasPrefix(value, crypto.Tag)
}
