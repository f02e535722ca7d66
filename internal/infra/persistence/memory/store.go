// Package memory provides a process-local snapshot store for tests and
// ephemeral editing sessions.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"coursestate/pkg/state"
)

// Store keeps the latest session snapshot in memory, one payload per
// top-level state kind.
type Store struct {
	mu      sync.Mutex
	buckets map[string][]byte
}

// NewStore constructs an empty in-memory snapshot store.
func NewStore() *Store {
	return &Store{buckets: make(map[string][]byte)}
}

// Save replaces the stored snapshot. Payloads are copied so later mutation of
// the caller's snapshot cannot alias stored state.
func (s *Store) Save(_ context.Context, snap state.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[string][]byte, len(snap))
	for bucket, payload := range snap {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		s.buckets[bucket] = cp
	}
	return nil
}

// Load returns the stored snapshot, reporting false when nothing was saved.
func (s *Store) Load(_ context.Context) (state.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buckets) == 0 {
		return nil, false, nil
	}
	snap := make(state.Snapshot, len(s.buckets))
	for bucket, payload := range s.buckets {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		snap[bucket] = json.RawMessage(cp)
	}
	return snap, true, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
