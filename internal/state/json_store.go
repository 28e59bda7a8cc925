package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
)

// JSONStore implements file-based checkpoint storage.
type JSONStore struct {
	baseDir string
	logger  *events.Logger
	mu      sync.RWMutex
}

// NewJSONStore creates a JSON-based state store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_state_store"),
	}, nil
}

// Load reads a checkpoint, falling back to the backup copy when the primary
// file is corrupt or fails its checksum.
func (s *JSONStore) Load(ctx context.Context, site string) (*models.SyncCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.statePath(site)

	s.logger.WithFields(map[string]interface{}{
		"site": site,
		"path": path,
	}).Debug("Loading state")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	cp, err := decodeEnvelope(data)
	if err != nil {
		s.logger.WithError(err).WithField("site", site).Error("State file unreadable")

		if backup, berr := s.loadBackup(site); berr == nil {
			s.logger.Warn("Loaded state from backup due to corruption")
			return backup, nil
		}
		return nil, ErrStateCorrupt
	}

	return cp, nil
}

// Save writes a checkpoint atomically, keeping the previous file as a backup.
func (s *JSONStore) Save(ctx context.Context, cp *models.SyncCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.statePath(cp.Site)

	s.logger.WithFields(map[string]interface{}{
		"site":    cp.Site,
		"run_id":  cp.LastRunID,
		"outcome": cp.LastOutcome,
	}).Debug("Saving state")

	data, err := encodeEnvelope(cp, time.Now().UTC())
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return &models.PersistError{Op: "write", Path: tmpPath, Err: err}
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &models.PersistError{Op: "rename", Path: path, Err: err}
	}

	return nil
}

// Reset removes the checkpoint and its backup.
func (s *JSONStore) Reset(ctx context.Context, site string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("site", site).Info("Resetting state")

	path := s.statePath(site)
	_ = os.Remove(path)
	_ = os.Remove(path + ".backup")

	return nil
}

// List returns all sites with a checkpoint.
func (s *JSONStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	var sites []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		sites = append(sites, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(sites)

	return sites, nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) statePath(site string) string {
	return filepath.Join(s.baseDir, SiteKey(site)+".json")
}

func (s *JSONStore) loadBackup(site string) (*models.SyncCheckpoint, error) {
	data, err := os.ReadFile(s.statePath(site) + ".backup")
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(data)
}

func encodeEnvelope(cp *models.SyncCheckpoint, savedAt time.Time) ([]byte, error) {
	env := envelope{
		Checkpoint:    cp,
		SchemaVersion: CurrentSchemaVersion,
		SavedAt:       savedAt,
	}

	sum, err := checksum(env)
	if err != nil {
		return nil, err
	}
	env.Checksum = sum

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state with checksum: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (*models.SyncCheckpoint, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if env.Checkpoint == nil {
		return nil, fmt.Errorf("%w: no checkpoint", ErrStateCorrupt)
	}

	if env.Checksum != "" {
		want := env.Checksum
		env.Checksum = ""
		got, err := checksum(env)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrStateCorrupt)
		}
	}

	return env.Checkpoint, nil
}

// checksum hashes the envelope with an empty Checksum field.
func checksum(env envelope) (string, error) {
	env.Checksum = ""
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal state for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
