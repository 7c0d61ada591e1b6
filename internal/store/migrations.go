package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migrations are applied in order; schema_version records the last
// applied entry so upgrades only run the tail.
var migrations = []string{
	`CREATE TABLE room_settings (
		room_id TEXT NOT NULL,
		setting TEXT NOT NULL,
		value   TEXT NOT NULL,
		PRIMARY KEY (room_id, setting)
	)`,
	`CREATE TABLE token_usage (
		message_id TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL,
		api        TEXT NOT NULL,
		tokens     INTEGER NOT NULL,
		timestamp  TEXT NOT NULL
	)`,
	`CREATE INDEX idx_token_usage_room ON token_usage (room_id)`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump schema_version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
		slog.Info("applied store migration", "version", i+1)
	}
	return nil
}
