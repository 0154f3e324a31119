// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/playerstate/internal/persistence/sqlite"
)

const schemaVersion = 1

var errClosed = errors.New("resume store closed")

// SqliteStore implements Store on SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the database at dbPath.
func NewSqliteStore(ctx context.Context, dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(ctx, dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	current, err := sqlite.UserVersion(ctx, s.DB)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const schema = `
	CREATE TABLE IF NOT EXISTS resume_positions (
		media_id TEXT NOT NULL,
		episode_id TEXT NOT NULL DEFAULT '',
		position_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		finished BOOLEAN NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (media_id, episode_id)
	);
	CREATE INDEX IF NOT EXISTS idx_resume_positions_updated ON resume_positions(updated_at);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Put(ctx context.Context, key Key, state *State) error {
	const query = `
	INSERT INTO resume_positions (media_id, episode_id, position_ms, duration_ms, finished, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(media_id, episode_id) DO UPDATE SET
		position_ms = excluded.position_ms,
		duration_ms = excluded.duration_ms,
		finished = excluded.finished,
		updated_at = excluded.updated_at
	`
	_, err := s.DB.ExecContext(ctx, query,
		key.MediaID, key.EpisodeID,
		state.Position.Milliseconds(), state.Duration.Milliseconds(),
		state.Finished, state.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SqliteStore) Get(ctx context.Context, key Key) (*State, error) {
	const query = `SELECT position_ms, duration_ms, finished, updated_at FROM resume_positions WHERE media_id = ? AND episode_id = ?`
	var (
		posMS, durMS int64
		st           State
		updatedAt    string
	)
	err := s.DB.QueryRowContext(ctx, query, key.MediaID, key.EpisodeID).Scan(&posMS, &durMS, &st.Finished, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.Position = time.Duration(posMS) * time.Millisecond
	st.Duration = time.Duration(durMS) * time.Millisecond
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &st, nil
}

func (s *SqliteStore) Delete(ctx context.Context, key Key) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM resume_positions WHERE media_id = ? AND episode_id = ?", key.MediaID, key.EpisodeID)
	return err
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
