// Package postgres persists session snapshots to PostgreSQL, one JSONB
// payload per top-level state kind.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"coursestate/pkg/state"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/coursestate?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store writes the full snapshot after every save. A single table keeps one
// row per state kind.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed snapshot store using the provided DSN
// (falls back to a local default) and ensures the state table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Save replaces the stored snapshot in one transaction.
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
			`INSERT INTO state(bucket, payload) VALUES($1, $2)`, bucket, []byte(payload)); err != nil {
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

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
