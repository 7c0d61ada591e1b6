// Package store persists per-room settings and token usage in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store wraps the bot's SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// schema migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}

	slog.Info("store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetRoomSetting returns the value of a per-room setting, or "" when
// the room has no value for it.
func (s *Store) GetRoomSetting(ctx context.Context, roomID, setting string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM room_settings WHERE room_id = ? AND setting = ?`,
		roomID, setting,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get room setting %s: %w", setting, err)
	}
	return value, nil
}

// SetRoomSetting stores a per-room setting, replacing any prior value.
func (s *Store) SetRoomSetting(ctx context.Context, roomID, setting, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_settings (room_id, setting, value) VALUES (?, ?, ?)
		 ON CONFLICT(room_id, setting) DO UPDATE SET value = excluded.value`,
		roomID, setting, value,
	)
	if err != nil {
		return fmt.Errorf("set room setting %s: %w", setting, err)
	}
	return nil
}

// BoolRoomSetting interprets a stored setting as a boolean with the
// given default when unset.
func (s *Store) BoolRoomSetting(ctx context.Context, roomID, setting string, def bool) (bool, error) {
	value, err := s.GetRoomSetting(ctx, roomID, setting)
	if err != nil {
		return def, err
	}
	switch value {
	case "":
		return def, nil
	case "1", "true", "yes", "on":
		return true, nil
	}
	return false, nil
}

// LogUsage records the token cost of one API call attributed to a
// message. Message IDs are unique; replays are ignored.
func (s *Store) LogUsage(ctx context.Context, messageID, roomID, api string, tokens int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (message_id, room_id, api, tokens, timestamp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		messageID, roomID, api, tokens, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}

// RoomUsage sums logged tokens for a room, keyed by api.
func (s *Store) RoomUsage(ctx context.Context, roomID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT api, SUM(tokens) FROM token_usage WHERE room_id = ? GROUP BY api`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("room usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]int)
	for rows.Next() {
		var api string
		var tokens int
		if err := rows.Scan(&api, &tokens); err != nil {
			return nil, fmt.Errorf("scan room usage: %w", err)
		}
		usage[api] = tokens
	}
	return usage, rows.Err()
}
