// Package session wraps one reactive editing session with observability,
// snapshot persistence, and blob export.
package session

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"coursestate/internal/blob"
	"coursestate/pkg/state"
)

// Service owns one Reactive instance for the lifetime of an editing session.
// Dispatches run through tracing, metrics, and structured logging; when a
// snapshot store is configured, the post-mutation state is persisted so the
// session can be restored later.
type Service struct {
	reactive  *state.Reactive
	logger    state.Logger
	metrics   MetricsRecorder
	tracer    Tracer
	clock     Clock
	snapshots SnapshotStore
	blobs     blob.Store
}

// ServiceOption configures a Service at construction.
type ServiceOption func(*Service)

// WithLogger injects the structured logger.
func WithLogger(l state.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMetricsRecorder injects the dispatch metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithTracer injects the dispatch tracer.
func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

// WithClock overrides the time source used for duration measurements.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithSnapshotStore enables snapshot persistence after successful dispatches.
func WithSnapshotStore(store SnapshotStore) ServiceOption {
	return func(s *Service) { s.snapshots = store }
}

// WithBlobStore enables snapshot export to a blob store.
func WithBlobStore(store blob.Store) ServiceOption {
	return func(s *Service) { s.blobs = store }
}

// NewService wraps the given reactive instance.
func NewService(r *state.Reactive, opts ...ServiceOption) *Service {
	s := &Service{
		reactive: r,
		logger:   state.NopLogger(),
		clock:    ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reactive returns the owned reactive instance, for component registration
// and mutation installation.
func (s *Service) Reactive() *state.Reactive { return s.reactive }

// Dispatch routes a mutation through the reactive instance, recording a trace
// span and a metrics observation, and persists the resulting snapshot when a
// store is configured. Snapshot persistence failures are logged, not
// surfaced: the in-memory state already moved on.
func (s *Service) Dispatch(ctx context.Context, mutation string, args ...any) error {
	started := s.clock.Now()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, mutation)
	}
	err := s.reactive.Dispatch(ctx, mutation, args...)
	if span != nil {
		span.End(err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, mutation, err == nil, s.clock.Now().Sub(started))
	}
	if err != nil {
		return err
	}
	s.logger.Debug("dispatched", "session", s.reactive.Name(), "mutation", mutation)
	if s.snapshots != nil {
		snap, err := s.reactive.StateManager().Snapshot()
		if err != nil {
			s.logger.Warn("snapshot state", "session", s.reactive.Name(), "error", err)
			return nil
		}
		if err := s.snapshots.Save(ctx, snap); err != nil {
			s.logger.Warn("persist snapshot", "session", s.reactive.Name(), "error", err)
		}
	}
	return nil
}

// Restore hydrates the session's initial state from the snapshot store.
// It reports false without error when no snapshot exists.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	if s.snapshots == nil {
		return false, nil
	}
	snap, ok, err := s.snapshots.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}
	doc, err := snap.Document()
	if err != nil {
		return false, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := s.reactive.SetInitialState(doc); err != nil {
		return false, err
	}
	s.logger.Info("session restored", "session", s.reactive.Name(), "kinds", len(doc))
	return true, nil
}

// ExportSnapshot writes the current state snapshot to the blob store as one
// JSON document, for debugging and support bundles, and returns its
// description.
func (s *Service) ExportSnapshot(ctx context.Context, key string) (blob.Info, error) {
	if s.blobs == nil {
		return blob.Info{}, fmt.Errorf("no blob store configured")
	}
	raw, err := s.reactive.State().MarshalJSON()
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode state: %w", err)
	}
	info, err := s.blobs.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"session": s.reactive.Name()},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("export snapshot: %w", err)
	}
	s.logger.Info("snapshot exported", "session", s.reactive.Name(), "key", key, "bytes", info.Size)
	return info, nil
}
