package store

import (
	"database/sql"
	"fmt"
	"time"
)

// schemaVersion is bumped whenever a schema evolution step is added.
const schemaVersion = "2"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata (outside bootstrap transaction; meta table now exists)
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: lookup indexes for event and revision listing
	if err := s.migrateListingIndexes(); err != nil {
		return fmt.Errorf("migrating listing indexes: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// Latest document per project
		`CREATE TABLE IF NOT EXISTS projects (
			name           TEXT PRIMARY KEY,
			document       TEXT NOT NULL,
			hash           TEXT NOT NULL,
			entities       INTEGER NOT NULL DEFAULT 0,
			relationships  INTEGER NOT NULL DEFAULT 0,
			clusters       INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)`,

		// Revision trail, trimmed to StoreConfig.MaxRevisions
		`CREATE TABLE IF NOT EXISTS project_revisions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			project    TEXT NOT NULL REFERENCES projects(name) ON DELETE CASCADE,
			document   TEXT NOT NULL,
			hash       TEXT NOT NULL,
			entities   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,

		// Append-only activity log
		`CREATE TABLE IF NOT EXISTS events (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT UNIQUE NOT NULL,
			project     TEXT NOT NULL DEFAULT '',
			op          TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,

		// Schema metadata
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": schemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

// migrateListingIndexes adds the indexes used by ListEvents and ListRevisions.
func (s *SQLiteStore) migrateListingIndexes() error {
	done, err := s.isMetaFlagEnabled("listing_indexes_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_events_project_seq ON events(project, seq DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_revisions_project_id ON project_revisions(project, id DESC)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning index migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range indexes {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("creating index %q: %w", truncate(stmt, 80), err)
		}
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion); err != nil {
		return fmt.Errorf("updating schema version: %w", err)
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('listing_indexes_v1', 'true')"); err != nil {
		return fmt.Errorf("marking index migration: %w", err)
	}
	return tx.Commit()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
