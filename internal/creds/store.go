package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheMichaelB/newsync/internal/crypto"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/storage"
)

// RemoteCredentials authenticate REST calls against the remote CMS.
type RemoteCredentials struct {
	Username            string `json:"username"`
	ApplicationPassword string `json:"application_password"`
	DatabasePassword    string `json:"database_password,omitempty"`
}

// PluginSecret authenticates plugin RPC calls.
type PluginSecret struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Bundle is the decrypted credential set used for one call batch.
type Bundle struct {
	Remote RemoteCredentials
	Plugin *PluginSecret
}

// HasBasicAuth reports whether REST credentials are usable.
func (b *Bundle) HasBasicAuth() bool {
	return b != nil && b.Remote.Username != "" && b.Remote.ApplicationPassword != ""
}

// HasPlugin reports whether the plugin channel is configured.
func (b *Bundle) HasPlugin() bool {
	return b != nil && b.Plugin != nil && b.Plugin.APIKey != ""
}

// Store persists credential files with every secret field encrypted.
type Store struct {
	blobs      storage.BlobStore
	cipher     crypto.SecretCipher
	credsPath  string
	pluginPath string
	logger     *events.Logger
}

// NewStore creates a credential store.
func NewStore(blobs storage.BlobStore, cipher crypto.SecretCipher, credsPath, pluginPath string, logger *events.Logger) *Store {
	return &Store{
		blobs:      blobs,
		cipher:     cipher,
		credsPath:  credsPath,
		pluginPath: pluginPath,
		logger:     logger.WithField("component", "creds"),
	}
}

// SaveRemote encrypts and writes REST credentials.
func (s *Store) SaveRemote(ctx context.Context, c RemoteCredentials) error {
	enc := c
	for _, f := range remoteFields(&enc) {
		v, err := s.cipher.EnsureEncrypted(*f.value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", f.name, err)
		}
		*f.value = v
	}
	return s.write(ctx, s.credsPath, enc)
}

// SavePlugin encrypts and writes the plugin secret.
func (s *Store) SavePlugin(ctx context.Context, p PluginSecret) error {
	enc := p
	v, err := s.cipher.EnsureEncrypted(enc.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api_key: %w", err)
	}
	enc.APIKey = v
	return s.write(ctx, s.pluginPath, enc)
}

// LoadRemote reads and decrypts REST credentials. A file still holding
// plaintext is rewritten encrypted.
func (s *Store) LoadRemote(ctx context.Context) (*RemoteCredentials, error) {
	var stored RemoteCredentials
	found, err := s.read(ctx, s.credsPath, &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("credentials file %s: %w", s.credsPath, models.ErrConfigMissing)
	}

	needsHeal := false
	plain := stored
	for _, f := range remoteFields(&plain) {
		if *f.value != "" && !s.cipher.IsEncrypted(*f.value) {
			needsHeal = true
		}
		v, err := s.cipher.TryDecrypt(*f.value)
		if err != nil {
			s.logger.WithError(err).WithField("field", f.name).Warn("Credential field unreadable")
			return nil, &models.DecryptError{Field: f.name, Reason: "credentials file", Err: err}
		}
		*f.value = v
	}

	if plain.Username == "" || plain.ApplicationPassword == "" {
		return nil, fmt.Errorf("username and application password: %w", models.ErrConfigMissing)
	}

	if needsHeal {
		s.logger.Info("Re-encrypting plaintext credentials")
		if err := s.SaveRemote(ctx, plain); err != nil {
			s.logger.WithError(err).Warn("Failed to re-encrypt credentials")
		}
	}

	return &plain, nil
}

// LoadPlugin reads the plugin secret. A missing file yields nil without error.
func (s *Store) LoadPlugin(ctx context.Context) (*PluginSecret, error) {
	var stored PluginSecret
	found, err := s.read(ctx, s.pluginPath, &stored)
	if err != nil || !found {
		return nil, err
	}

	key, err := s.cipher.TryDecrypt(stored.APIKey)
	if err != nil {
		return nil, &models.DecryptError{Field: "api_key", Reason: "plugin file", Err: err}
	}

	if stored.APIKey != "" && !s.cipher.IsEncrypted(stored.APIKey) {
		s.logger.Info("Re-encrypting plaintext plugin secret")
		if err := s.SavePlugin(ctx, PluginSecret{APIKey: key, Endpoint: stored.Endpoint}); err != nil {
			s.logger.WithError(err).Warn("Failed to re-encrypt plugin secret")
		}
	}

	if key == "" {
		return nil, nil
	}
	return &PluginSecret{APIKey: key, Endpoint: stored.Endpoint}, nil
}

// Load returns the full decrypted bundle. Either half may be absent, but
// not both.
func (s *Store) Load(ctx context.Context) (*Bundle, error) {
	remote, remoteErr := s.LoadRemote(ctx)
	if remoteErr != nil && !errors.Is(remoteErr, models.ErrConfigMissing) {
		return nil, remoteErr
	}
	plugin, err := s.LoadPlugin(ctx)
	if err != nil {
		return nil, err
	}

	if remote == nil {
		if plugin == nil {
			return nil, remoteErr
		}
		return &Bundle{Plugin: plugin}, nil
	}
	return &Bundle{Remote: *remote, Plugin: plugin}, nil
}

// Clear removes both credential files.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.blobs.Delete(ctx, s.credsPath); err != nil {
		return err
	}
	return s.blobs.Delete(ctx, s.pluginPath)
}

func (s *Store) write(ctx context.Context, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := s.blobs.Write(ctx, path, data, 0600); err != nil {
		return &models.PersistError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (s *Store) read(ctx context.Context, path string, v interface{}) (bool, error) {
	data, err := s.blobs.Read(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, &models.PersistError{Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, models.ErrInvalidConfig)
	}
	return true, nil
}

type field struct {
	name  string
	value *string
}

func remoteFields(c *RemoteCredentials) []field {
	return []field{
		{"username", &c.Username},
		{"application_password", &c.ApplicationPassword},
		{"database_password", &c.DatabasePassword},
	}
}
