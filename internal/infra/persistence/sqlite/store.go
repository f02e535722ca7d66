// Package sqlite persists session snapshots to an embedded SQLite file, one
// JSON payload per top-level state kind.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"coursestate/pkg/state"
)

// Store writes the full snapshot after every save, replacing whatever the
// previous session state was. A single table keeps one row per state kind.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the snapshot database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "coursestate.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Save replaces the stored snapshot in one transaction. Dropped kinds (a
// deleted scalar, for instance) disappear rather than lingering as stale
// rows.
func (s *Store) Save(ctx context.Context, snap state.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	for bucket, payload := range snap {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket, payload) VALUES(?, ?)`, bucket, []byte(payload)); err != nil {
			return fmt.Errorf("insert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads the stored snapshot, reporting false when the table is empty.
func (s *Store) Load(ctx context.Context) (state.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := state.Snapshot{}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, false, fmt.Errorf("scan state: %w", err)
		}
		if !json.Valid(payload) {
			return nil, false, fmt.Errorf("decode %s: invalid JSON payload", bucket)
		}
		snap[bucket] = json.RawMessage(payload)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate state: %w", err)
	}
	if len(snap) == 0 {
		return nil, false, nil
	}
	return snap, true, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
