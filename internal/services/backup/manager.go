// Package backup snapshots the news collection and restores it.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/repository"
	"github.com/TheMichaelB/newsync/internal/storage"
)

const (
	filePrefix = "news-backup-"
	fileSuffix = ".json"
	stampFmt   = "20060102T150405.000Z"
)

// ErrInvalidBackupName is returned for names outside the backup layout.
var ErrInvalidBackupName = errors.New("invalid backup name")

// Strategy selects how a bundle is applied.
type Strategy string

// Restore strategies.
const (
	StrategyMerge   Strategy = "merge"
	StrategyReplace Strategy = "replace"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyMerge || s == StrategyReplace
}

// RestoreResult summarizes a restore.
type RestoreResult struct {
	Strategy  Strategy `json:"strategy"`
	Added     int      `json:"added"`
	Replaced  int      `json:"replaced"`
	Skipped   int      `json:"skipped"`
	Total     int      `json:"total"`
	SafetyRef string   `json:"safety_snapshot,omitempty"`
}

// Manager takes, lists, prunes and restores snapshots.
type Manager struct {
	repo   *repository.Repository
	store  storage.BlobStore
	keep   map[models.BackupKind]int
	logger *events.Logger
	now    func() time.Time
}

// NewManager creates a backup manager writing into store.
func NewManager(repo *repository.Repository, store storage.BlobStore, cfg config.BackupConfig, logger *events.Logger) *Manager {
	return &Manager{
		repo:  repo,
		store: store,
		keep: map[models.BackupKind]int{
			models.BackupAuto:      cfg.AutoKeep,
			models.BackupPreDeploy: cfg.PreDeployKeep,
		},
		logger: logger.WithField("component", "backup"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Snapshot writes the current main collection and prunes its retention class.
func (m *Manager) Snapshot(ctx context.Context, kind models.BackupKind) (*models.BackupInfo, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("backup kind %q: %w", kind, models.ErrInvalidConfig)
	}

	items, err := m.repo.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}

	created := m.now().UTC()
	name, err := m.freeName(ctx, kind, created)
	if err != nil {
		return nil, err
	}

	bundle := models.BackupBundle{
		Version:   models.BundleVersion,
		Kind:      kind,
		CreatedAt: created,
		Count:     len(items),
		Items:     items,
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}

	if err := m.store.Write(ctx, name, data, 0600); err != nil {
		return nil, &models.PersistError{Op: "write", Path: name, Err: err}
	}

	m.logger.WithFields(map[string]interface{}{
		"name":  name,
		"kind":  kind,
		"count": len(items),
	}).Info("Snapshot written")

	if _, err := m.Prune(ctx, kind.RetentionClass()); err != nil {
		m.logger.WithError(err).Warn("Backup pruning failed")
	}

	return &models.BackupInfo{
		Name:      name,
		Kind:      kind,
		CreatedAt: created,
		Size:      int64(len(data)),
	}, nil
}

// freeName returns an unused file name, nudging the stamp forward on collision.
func (m *Manager) freeName(ctx context.Context, kind models.BackupKind, at time.Time) (string, error) {
	for i := 0; i < 1000; i++ {
		name := FileName(kind, at.Add(time.Duration(i)*time.Millisecond))
		exists, err := m.store.Exists(ctx, name)
		if err != nil {
			return "", &models.PersistError{Op: "stat", Path: name, Err: err}
		}
		if !exists {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free backup name for %s", kind)
}

// FileName builds news-backup-<kind>-<UTC stamp>.json.
func FileName(kind models.BackupKind, at time.Time) string {
	return filePrefix + string(kind) + "-" + at.UTC().Format(stampFmt) + fileSuffix
}

// ParseFileName recovers the kind and timestamp from a backup file name.
func ParseFileName(name string) (models.BackupKind, time.Time, error) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return "", time.Time{}, ErrInvalidBackupName
	}

	body := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if len(body) <= len(stampFmt)+1 {
		return "", time.Time{}, ErrInvalidBackupName
	}

	split := len(body) - len(stampFmt)
	if body[split-1] != '-' {
		return "", time.Time{}, ErrInvalidBackupName
	}

	at, err := time.Parse(stampFmt, body[split:])
	if err != nil {
		return "", time.Time{}, ErrInvalidBackupName
	}

	kind := models.BackupKind(body[:split-1])
	if !kind.Valid() {
		return "", time.Time{}, ErrInvalidBackupName
	}

	return kind, at, nil
}

// List returns all snapshots, oldest first.
func (m *Manager) List(ctx context.Context) ([]models.BackupInfo, error) {
	files, err := m.store.List(ctx, "")
	if err != nil {
		return nil, &models.PersistError{Op: "list", Path: "backups", Err: err}
	}

	var out []models.BackupInfo
	for _, f := range files {
		kind, at, err := ParseFileName(f.Path)
		if err != nil {
			continue
		}
		out = append(out, models.BackupInfo{
			Name:      f.Path,
			Kind:      kind,
			CreatedAt: at,
			Size:      f.Size,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// Prune deletes the oldest snapshots of class beyond its keep count and
// returns how many were removed. Manual snapshots are never pruned.
func (m *Manager) Prune(ctx context.Context, class models.BackupKind) (int, error) {
	keep, ok := m.keep[class]
	if !ok || keep <= 0 {
		return 0, nil
	}

	all, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	var members []models.BackupInfo
	for _, b := range all {
		if b.Kind.RetentionClass() == class {
			members = append(members, b)
		}
	}

	excess := len(members) - keep
	if excess <= 0 {
		return 0, nil
	}

	for _, b := range members[:excess] {
		if err := m.store.Delete(ctx, b.Name); err != nil {
			return 0, &models.PersistError{Op: "delete", Path: b.Name, Err: err}
		}
		m.logger.WithField("name", b.Name).Debug("Pruned snapshot")
	}

	m.logger.WithFields(map[string]interface{}{
		"class":   class,
		"removed": excess,
	}).Info("Pruned snapshots")

	return excess, nil
}

// Load reads a snapshot by name.
func (m *Manager) Load(ctx context.Context, name string) (*models.BackupBundle, error) {
	if _, _, err := ParseFileName(name); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	data, err := m.store.Read(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("backup %s: %w", name, models.ErrNotFound)
		}
		return nil, &models.PersistError{Op: "read", Path: name, Err: err}
	}

	var bundle models.BackupBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, &models.PersistError{Op: "parse", Path: name, Err: err}
	}
	if bundle.Version > models.BundleVersion {
		return nil, fmt.Errorf("backup %s has unsupported version %d", name, bundle.Version)
	}
	if bundle.Items == nil {
		bundle.Items = []models.ContentItem{}
	}

	return &bundle, nil
}

// Clear deletes every snapshot.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	all, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range all {
		if err := m.store.Delete(ctx, b.Name); err != nil {
			return 0, &models.PersistError{Op: "delete", Path: b.Name, Err: err}
		}
	}
	m.logger.WithField("removed", len(all)).Info("Cleared backups")
	return len(all), nil
}
