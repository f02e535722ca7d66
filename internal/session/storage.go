package session

import (
	"context"
	"fmt"
	"os"

	"coursestate/internal/infra/persistence/memory"
	"coursestate/internal/infra/persistence/postgres"
	"coursestate/internal/infra/persistence/sqlite"
	"coursestate/pkg/state"
)

// SnapshotStore persists per-kind snapshots of a session's state tree.
type SnapshotStore interface {
	Save(ctx context.Context, snap state.Snapshot) error
	Load(ctx context.Context) (state.Snapshot, bool, error)
	Close() error
}

// Compile-time contract assertions for the available backends.
var (
	_ SnapshotStore = (*memory.Store)(nil)
	_ SnapshotStore = (*sqlite.Store)(nil)
	_ SnapshotStore = (*postgres.Store)(nil)
)

// StorageDriver identifies a concrete snapshot store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenSnapshotStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	COURSESTATE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	COURSESTATE_SQLITE_PATH: path to sqlite file (default ./coursestate.db)
//	COURSESTATE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenSnapshotStore(ctx context.Context) (SnapshotStore, error) {
	driver := os.Getenv("COURSESTATE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("COURSESTATE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(ctx, os.Getenv("COURSESTATE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
