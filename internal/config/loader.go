package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. NEWSYNC_REMOTE_BASE_URL.
const EnvPrefix = "NEWSYNC"

// envKeys are the settings that may be overridden from the environment.
var envKeys = []string{
	"remote.base_url",
	"remote.rest_prefix",
	"remote.plugin_endpoint",
	"remote.plugin_action",
	"remote.page_size",
	"remote.pull_timeout",
	"remote.push_timeout",
	"remote.light_timeout",
	"remote.max_retries",
	"remote.retry_delay",
	"remote.credential_ttl",
	"security.master_secret",
	"security.master_secret_id",
	"storage.data_dir",
	"storage.backup_dir",
	"sync.news_category",
	"sync.exclude_categories",
	"sync.require_news_category",
	"backup.s3_bucket",
	"backup.s3_prefix",
	"state.backend",
	"state.path",
	"state.table_name",
	"server.addr",
	"log.level",
	"log.format",
	"log.file",
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{
		configPath: configPath,
		v:          v,
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("newsync")
		for _, dir := range l.defaultDirs() {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Override with environment variables
	for _, key := range envKeys {
		if err := l.v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	// Slices decode element-wise into existing values; start from empty.
	if l.v.IsSet("sync.exclude_categories") {
		cfg.Sync.ExcludeCategories = nil
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Keep dependent paths under a relocated data dir
	if l.v.IsSet("storage.data_dir") {
		if !l.v.IsSet("storage.backup_dir") {
			cfg.Storage.BackupDir = filepath.Join(cfg.Storage.DataDir, "backups")
		}
		if !l.v.IsSet("state.path") {
			cfg.State.Path = filepath.Join(cfg.Storage.DataDir, "state")
		}
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file the loader read, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// defaultDirs returns default config file locations.
func (l *Loader) defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "newsync"),
			filepath.Join(homeDir, ".newsync"),
		)
	}

	return dirs
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()
	cfg.Remote.BaseURL = "https://cms.example.com"

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
