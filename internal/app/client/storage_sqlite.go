package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"portalsync/internal/domain/sync"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Checkpoint is where the last pull of a model set stopped.
type Checkpoint struct {
	Cursor    string
	Since     time.Time
	UpdatedAt time.Time
}

// SQLiteStorage keeps pull checkpoints and a local copy of pulled records.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}
	if err := storage.initTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}
	return storage, nil
}

func (s *SQLiteStorage) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			name TEXT PRIMARY KEY,
			cursor TEXT NOT NULL DEFAULT '',
			since TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS items (
			model TEXT NOT NULL,
			id TEXT NOT NULL,
			origin TEXT NOT NULL,
			data TEXT,
			updated TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (model, id)
		);

		CREATE INDEX IF NOT EXISTS idx_items_updated ON items(updated);
	`)
	return err
}

// Checkpoint returns the saved position for name, or a zero Checkpoint.
func (s *SQLiteStorage) Checkpoint(ctx context.Context, name string) (Checkpoint, error) {
	var cp Checkpoint
	var since, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor, since, updated_at FROM checkpoints WHERE name = ?`, name,
	).Scan(&cp.Cursor, &since, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if since != "" {
		cp.Since, _ = time.Parse(time.RFC3339Nano, since)
	}
	cp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return cp, nil
}

func (s *SQLiteStorage) SaveCheckpoint(ctx context.Context, name string, cp Checkpoint) error {
	since := ""
	if !cp.Since.IsZero() {
		since = cp.Since.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, cursor, since, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET cursor = excluded.cursor, since = excluded.since, updated_at = excluded.updated_at
	`, name, cp.Cursor, since, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteCheckpoint(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// ApplyItems stores one page of pulled changes. Tombstones keep their row
// with the data cleared.
func (s *SQLiteStorage) ApplyItems(ctx context.Context, items []sync.DeltaItem) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (model, id, origin, data, updated, deleted) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(model, id) DO UPDATE SET
			origin = excluded.origin, data = excluded.data,
			updated = excluded.updated, deleted = excluded.deleted
		WHERE excluded.updated >= items.updated
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		var data any
		if !it.Deleted && it.Data != nil {
			raw, merr := json.Marshal(it.Data)
			if merr != nil {
				return fmt.Errorf("marshal %s/%s: %w", it.Model, it.ID, merr)
			}
			data = string(raw)
		}
		if _, err = stmt.ExecContext(ctx,
			string(it.Model), it.ID, string(it.Origin), data,
			it.Updated.UTC().Format(timeLayout), it.Deleted,
		); err != nil {
			return fmt.Errorf("store %s/%s: %w", it.Model, it.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CountItems returns live and deleted local rows, per model when model is set.
func (s *SQLiteStorage) CountItems(ctx context.Context, model string) (live, deleted int, err error) {
	query := `SELECT COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
	                 COALESCE(SUM(deleted), 0) FROM items`
	args := []any{}
	if model != "" {
		query += ` WHERE model = ?`
		args = append(args, model)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&live, &deleted); err != nil {
		return 0, 0, fmt.Errorf("count items: %w", err)
	}
	return live, deleted, nil
}

// Item returns the local copy of one record; ok is false when it was never pulled.
func (s *SQLiteStorage) Item(ctx context.Context, model, id string) (data map[string]any, deleted, ok bool, err error) {
	var raw sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT data, deleted FROM items WHERE model = ? AND id = ?`, model, id,
	).Scan(&raw, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, fmt.Errorf("load item: %w", err)
	}
	if raw.Valid {
		if err := json.Unmarshal([]byte(raw.String), &data); err != nil {
			return nil, false, false, fmt.Errorf("decode item: %w", err)
		}
	}
	return data, deleted, true, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
