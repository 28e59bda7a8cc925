package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Remote CMS endpoints and call policy
	Remote RemoteConfig `mapstructure:"remote" json:"remote"`

	// Master secret for the credential vault
	Security SecurityConfig `mapstructure:"security" json:"security"`

	// Local file layout
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// Sync behavior
	Sync SyncConfig `mapstructure:"sync" json:"sync"`

	// Backup retention and mirroring
	Backup BackupConfig `mapstructure:"backup" json:"backup"`

	// Sync checkpoint persistence
	State StateConfig `mapstructure:"state" json:"state"`

	// HTTP API surface
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// RemoteConfig for remote CMS communication.
type RemoteConfig struct {
	BaseURL        string `mapstructure:"base_url" json:"base_url"`
	RESTPrefix     string `mapstructure:"rest_prefix" json:"rest_prefix"`
	PluginEndpoint string `mapstructure:"plugin_endpoint" json:"plugin_endpoint"`
	PluginAction   string `mapstructure:"plugin_action" json:"plugin_action"`
	UserAgent      string `mapstructure:"user_agent" json:"user_agent"`
	PageSize       int    `mapstructure:"page_size" json:"page_size"`

	// Per-operation timeouts
	PullTimeout  time.Duration `mapstructure:"pull_timeout" json:"pull_timeout"`
	PushTimeout  time.Duration `mapstructure:"push_timeout" json:"push_timeout"`
	LightTimeout time.Duration `mapstructure:"light_timeout" json:"light_timeout"`

	// Retry policy for transport-level failures
	MaxRetries        int           `mapstructure:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	RetryServerErrors bool          `mapstructure:"retry_server_errors" json:"retry_server_errors"`

	// How long decrypted credentials stay in memory
	CredentialTTL time.Duration `mapstructure:"credential_ttl" json:"credential_ttl"`
}

// SecurityConfig for the credential vault.
type SecurityConfig struct {
	MasterSecret   string `mapstructure:"master_secret" json:"master_secret,omitempty"`
	MasterSecretID string `mapstructure:"master_secret_id" json:"master_secret_id,omitempty"` // AWS Secrets Manager name or ARN
	KDFIterations  int    `mapstructure:"kdf_iterations" json:"kdf_iterations"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir         string `mapstructure:"data_dir" json:"data_dir"`
	NewsFile        string `mapstructure:"news_file" json:"news_file"`
	TrashFile       string `mapstructure:"trash_file" json:"trash_file"`
	CredentialsFile string `mapstructure:"credentials_file" json:"credentials_file"`
	PluginFile      string `mapstructure:"plugin_file" json:"plugin_file"`
	BackupDir       string `mapstructure:"backup_dir" json:"backup_dir"`
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	NewsCategory        string   `mapstructure:"news_category" json:"news_category"`
	ExcludeCategories   []string `mapstructure:"exclude_categories" json:"exclude_categories"`
	ContentTypeMarker   string   `mapstructure:"content_type_marker" json:"content_type_marker"` // remote meta key
	RequireNewsCategory bool     `mapstructure:"require_news_category" json:"require_news_category"`
	PullStatus          string   `mapstructure:"pull_status" json:"pull_status"`
}

// BackupConfig for snapshot retention.
type BackupConfig struct {
	AutoKeep      int    `mapstructure:"auto_keep" json:"auto_keep"`
	PreDeployKeep int    `mapstructure:"predeploy_keep" json:"predeploy_keep"`
	S3Bucket      string `mapstructure:"s3_bucket" json:"s3_bucket,omitempty"`
	S3Prefix      string `mapstructure:"s3_prefix" json:"s3_prefix,omitempty"`
}

// StateConfig selects the checkpoint store.
type StateConfig struct {
	Backend   string `mapstructure:"backend" json:"backend"` // json, sqlite, dynamodb
	Path      string `mapstructure:"path" json:"path"`
	TableName string `mapstructure:"table_name" json:"table_name,omitempty"`
}

// ServerConfig for the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // Log file path (empty = stdout)
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := "data"

	return &Config{
		Remote: RemoteConfig{
			RESTPrefix:     "/wp-json/wp/v2",
			PluginEndpoint: "/wp-admin/admin-ajax.php",
			PluginAction:   "news_rpc",
			UserAgent:      "newsync/1.0",
			PageSize:       20,
			PullTimeout:    30 * time.Second,
			PushTimeout:    20 * time.Second,
			LightTimeout:   10 * time.Second,
			MaxRetries:     1,
			RetryDelay:     750 * time.Millisecond,
			CredentialTTL:  5 * time.Minute,
		},
		Security: SecurityConfig{
			KDFIterations: 100000,
		},
		Storage: StorageConfig{
			DataDir:         dataDir,
			NewsFile:        "news.json",
			TrashFile:       "trash.json",
			CredentialsFile: "credentials.json",
			PluginFile:      "plugin.json",
			BackupDir:       filepath.Join(dataDir, "backups"),
		},
		Sync: SyncConfig{
			NewsCategory:      "news",
			ExcludeCategories: []string{"recruitment", "jobs"},
			ContentTypeMarker: "content_type",
			PullStatus:        "any",
		},
		Backup: BackupConfig{
			AutoKeep:      10,
			PreDeployKeep: 5,
		},
		State: StateConfig{
			Backend: "json",
			Path:    filepath.Join(dataDir, "state"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8089",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Remote.PageSize <= 0 || c.Remote.PageSize > 100 {
		return errors.New("remote.page_size must be between 1 and 100")
	}

	if c.Remote.PullTimeout <= 0 || c.Remote.PushTimeout <= 0 || c.Remote.LightTimeout <= 0 {
		return errors.New("remote timeouts must be positive")
	}

	if c.Remote.MaxRetries < 0 || c.Remote.MaxRetries > 1 {
		return errors.New("remote.max_retries must be 0 or 1")
	}

	if c.Remote.CredentialTTL < 0 || c.Remote.CredentialTTL > 5*time.Minute {
		return errors.New("remote.credential_ttl must be between 0 and 5m")
	}

	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	if c.Security.KDFIterations < 1000 {
		return errors.New("security.kdf_iterations must be at least 1000")
	}

	if c.Backup.AutoKeep <= 0 || c.Backup.PreDeployKeep <= 0 {
		return errors.New("backup retention counts must be positive")
	}

	validBackends := map[string]bool{"json": true, "sqlite": true, "dynamodb": true}
	if !validBackends[c.State.Backend] {
		return fmt.Errorf("invalid state backend: %s", c.State.Backend)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// RemoteConfigured reports whether a remote base URL is set.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.BaseURL != ""
}

// Path joins a file name onto the data directory unless it is already absolute.
func (c *Config) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.BackupDir,
	}

	if c.State.Backend == "json" {
		dirs = append(dirs, c.State.Path)
	} else if c.State.Backend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.State.Path))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
