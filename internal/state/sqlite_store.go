package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
)

// SQLiteStore implements SQLite-based checkpoint storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sync_checkpoints (
        site TEXT PRIMARY KEY,
        last_sync_at TIMESTAMP,
        last_run_id TEXT NOT NULL DEFAULT '',
        last_outcome TEXT NOT NULL DEFAULT '',
        pulled INTEGER NOT NULL DEFAULT 0,
        pushed INTEGER NOT NULL DEFAULT 0,
        failures INTEGER NOT NULL DEFAULT 0,
        last_error TEXT NOT NULL DEFAULT '',
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Load retrieves a checkpoint.
func (s *SQLiteStore) Load(ctx context.Context, site string) (*models.SyncCheckpoint, error) {
	site = SiteKey(site)
	s.logger.WithField("site", site).Debug("Loading state from SQLite")

	cp := models.SyncCheckpoint{Site: site}
	var lastSyncAt sql.NullTime
	var outcome string

	err := s.db.QueryRowContext(ctx, `
        SELECT last_sync_at, last_run_id, last_outcome, pulled, pushed, failures, last_error, updated_at
        FROM sync_checkpoints
        WHERE site = ?
    `, site).Scan(&lastSyncAt, &cp.LastRunID, &outcome, &cp.Pulled, &cp.Pushed, &cp.Failures, &cp.LastError, &cp.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	cp.LastOutcome = models.Outcome(outcome)
	if lastSyncAt.Valid {
		t := lastSyncAt.Time.UTC()
		cp.LastSyncAt = &t
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()

	return &cp, nil
}

// Save upserts a checkpoint.
func (s *SQLiteStore) Save(ctx context.Context, cp *models.SyncCheckpoint) error {
	site := SiteKey(cp.Site)

	s.logger.WithFields(map[string]interface{}{
		"site":   site,
		"run_id": cp.LastRunID,
	}).Debug("Saving state to SQLite")

	var lastSyncAt interface{}
	if cp.LastSyncAt != nil {
		lastSyncAt = cp.LastSyncAt.UTC()
	}
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sync_checkpoints (site, last_sync_at, last_run_id, last_outcome, pulled, pushed, failures, last_error, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(site) DO UPDATE SET
            last_sync_at = excluded.last_sync_at,
            last_run_id = excluded.last_run_id,
            last_outcome = excluded.last_outcome,
            pulled = excluded.pulled,
            pushed = excluded.pushed,
            failures = excluded.failures,
            last_error = excluded.last_error,
            updated_at = excluded.updated_at
    `, site, lastSyncAt, cp.LastRunID, string(cp.LastOutcome), cp.Pulled, cp.Pushed, cp.Failures, cp.LastError, updatedAt.UTC())
	if err != nil {
		return &models.PersistError{Op: "upsert", Path: site, Err: err}
	}

	return nil
}

// Reset removes a checkpoint.
func (s *SQLiteStore) Reset(ctx context.Context, site string) error {
	site = SiteKey(site)
	s.logger.WithField("site", site).Info("Resetting state in SQLite")

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_checkpoints WHERE site = ?", site); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}

	return nil
}

// List returns all sites.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT site FROM sync_checkpoints ORDER BY site")
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	var sites []string
	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}

	return sites, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
