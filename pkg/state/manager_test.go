package state

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder collects flushed events for assertions. Coalesced flushes arrive
// from a timer goroutine, so access is guarded.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) names() []string {
	out := make([]string, 0)
	for _, ev := range r.all() {
		out = append(out, ev.Name)
	}
	return out
}

func (r *recorder) count(name string) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func initialCourseDoc() map[string]any {
	return map[string]any{
		"course": map[string]any{"id": 1, "name": "C1"},
		"section": []any{
			map[string]any{"id": 10, "name": "S1", "cmlist": []any{5}},
		},
		"cm": []any{
			map[string]any{"id": 5, "name": "Quiz", "visible": true},
		},
	}
}

func newLoadedManager(t *testing.T, rec *recorder) *StateManager {
	t.Helper()
	m := NewStateManager(rec.sink)
	if err := m.SetInitialState(initialCourseDoc()); err != nil {
		t.Fatalf("set initial state: %v", err)
	}
	return m
}

func TestSetInitialStateBuildsTree(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)

	course, ok := m.State().Entity("course")
	if !ok {
		t.Fatal("expected scalar course entity")
	}
	if name, _ := course.Get("name"); name != "C1" {
		t.Fatalf("expected course name C1, got %v", name)
	}
	sections, ok := m.State().Map("section")
	if !ok {
		t.Fatal("expected section collection")
	}
	if sections.Len() != 1 {
		t.Fatalf("expected 1 section, got %d", sections.Len())
	}
	if _, ok := sections.Get(10); !ok {
		t.Fatal("expected section keyed by 10")
	}
	if !m.Locked() {
		t.Fatal("tree must lock after initial load")
	}
	if rec.len() != 1 || rec.all()[0].Name != EventStateLoaded {
		t.Fatalf("expected a single %s event, got %v", EventStateLoaded, rec.names())
	}
}

func TestSetInitialStateTwiceFails(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	if err := m.SetInitialState(initialCourseDoc()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestSetInitialStateJSONNormalizesNumericIDs(t *testing.T) {
	rec := &recorder{}
	m := NewStateManager(rec.sink)
	raw := []byte(`{"course":{"id":1},"cm":[{"id":5,"name":"Quiz"}]}`)
	if err := m.SetInitialStateJSON(raw); err != nil {
		t.Fatalf("load json: %v", err)
	}
	cms, _ := m.State().Map("cm")
	for _, id := range []any{5, int64(5), float64(5), "5"} {
		if _, ok := cms.Get(id); !ok {
			t.Fatalf("expected cm lookup to accept id form %T", id)
		}
	}
}

func TestSetInitialStateRejectsScalarValues(t *testing.T) {
	m := NewStateManager(nil)
	err := m.SetInitialState(map[string]any{"count": 3})
	if err == nil {
		t.Fatal("expected error for non-object top-level value")
	}
}

func TestProcessUpdatesRequiresInitialState(t *testing.T) {
	m := NewStateManager(nil)
	err := m.ProcessUpdates([]Update{{Name: "cm", Fields: map[string]any{"id": 5}}}, nil)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestProcessUpdatesCreate(t *testing.T) {
	rec := &recorder{}
	m := NewStateManager(rec.sink)
	if err := m.SetInitialState(map[string]any{"course": map[string]any{"id": 1}, "cm": []any{}}); err != nil {
		t.Fatalf("set initial state: %v", err)
	}
	rec.reset()

	err := m.ProcessUpdates([]Update{
		{Name: "cm", Action: UpdateCreate, Fields: map[string]any{"id": 5, "name": "Quiz"}},
	}, nil)
	if err != nil {
		t.Fatalf("process updates: %v", err)
	}
	cms, _ := m.State().Map("cm")
	cm, ok := cms.Get(5)
	if !ok {
		t.Fatal("expected cm 5 after create")
	}
	if name, _ := cm.Get("name"); name != "Quiz" {
		t.Fatalf("expected name Quiz, got %v", name)
	}
	if got := rec.count("cm:created"); got != 1 {
		t.Fatalf("expected exactly one cm:created event, got %d (%v)", got, rec.names())
	}
	if !m.Locked() {
		t.Fatal("tree must re-lock after ProcessUpdates")
	}
}

func TestProcessUpdatesDelete(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	rec.reset()

	err := m.ProcessUpdates([]Update{
		{Name: "cm", Action: UpdateDelete, Fields: map[string]any{"id": 5}},
	}, nil)
	if err != nil {
		t.Fatalf("process updates: %v", err)
	}
	cms, _ := m.State().Map("cm")
	if _, ok := cms.Get(5); ok {
		t.Fatal("expected cm 5 removed")
	}
	if got := rec.count("cm:deleted"); got != 1 {
		t.Fatalf("expected exactly one cm:deleted event, got %d", got)
	}
}

func TestProcessUpdateCreateOnScalarKindFails(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	err := m.ProcessUpdates([]Update{
		{Name: "course", Action: UpdateCreate, Fields: map[string]any{"id": 2}},
	}, nil)
	var scalarErr ErrScalarKind
	if !errors.As(err, &scalarErr) {
		t.Fatalf("expected ErrScalarKind, got %v", err)
	}
	if !m.Locked() {
		t.Fatal("tree must re-lock even when an update fails")
	}
}

func TestProcessUpdateCreateIntroducesScalarKind(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	rec.reset()

	err := m.ProcessUpdates([]Update{
		{Name: "bulk", Action: UpdateCreate, Fields: map[string]any{"enabled": true}},
	}, nil)
	if err != nil {
		t.Fatalf("process updates: %v", err)
	}
	bulk, ok := m.State().Entity("bulk")
	if !ok {
		t.Fatal("expected bulk scalar kind after create")
	}
	if enabled, _ := bulk.Get("enabled"); enabled != true {
		t.Fatalf("expected enabled true, got %v", enabled)
	}
	if got := rec.count("bulk:created"); got != 1 {
		t.Fatalf("expected one bulk:created event, got %d", got)
	}
}

func TestProcessUpdateUnknownKindFails(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	err := m.ProcessUpdates([]Update{
		{Name: "ghost", Fields: map[string]any{"id": 1}},
	}, nil)
	var unknownErr ErrUnknownKind
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestProcessUpdateMissingTargetFails(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	err := m.ProcessUpdates([]Update{
		{Name: "cm", Fields: map[string]any{"id": 99, "name": "gone"}},
	}, nil)
	var notFound ErrEntityNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestUpdateMissingAsCreateOverride(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	rec.reset()

	overrides := map[string]UpdateHandler{UpdateUpdate: UpdateMissingAsCreate}
	err := m.ProcessUpdates([]Update{
		{Name: "cm", Fields: map[string]any{"id": 99, "name": "New"}},
		{Name: "cm", Fields: map[string]any{"id": 5, "name": "Quiz renamed"}},
	}, overrides)
	if err != nil {
		t.Fatalf("process updates: %v", err)
	}
	cms, _ := m.State().Map("cm")
	if _, ok := cms.Get(99); !ok {
		t.Fatal("expected absent cm to be created by override")
	}
	cm5, _ := cms.Get(5)
	if name, _ := cm5.Get("name"); name != "Quiz renamed" {
		t.Fatalf("expected present cm to update, got name %v", name)
	}
}

func TestFlushOrdersCreatedUpdatedDeleted(t *testing.T) {
	rec := &recorder{}
	m := NewStateManager(rec.sink)
	doc := map[string]any{
		"course": map[string]any{"id": 1},
		"cm": []any{
			map[string]any{"id": 5, "name": "Quiz"},
			map[string]any{"id": 6, "name": "Forum"},
		},
	}
	if err := m.SetInitialState(doc); err != nil {
		t.Fatalf("set initial state: %v", err)
	}
	rec.reset()

	// Enqueue order is delete, update, create; delivery must be the reverse.
	err := m.ProcessUpdates([]Update{
		{Name: "cm", Action: UpdateDelete, Fields: map[string]any{"id": 6}},
		{Name: "cm", Fields: map[string]any{"id": 5, "name": "Quiz v2"}},
		{Name: "cm", Action: UpdateCreate, Fields: map[string]any{"id": 7, "name": "Wiki"}},
	}, nil)
	if err != nil {
		t.Fatalf("process updates: %v", err)
	}

	created, updated, deleted := -1, -1, -1
	for i, ev := range rec.all() {
		switch {
		case ev.Name == "cm:created" && created == -1:
			created = i
		case ev.Name == "cm:updated" && updated == -1:
			updated = i
		case ev.Name == "cm:deleted" && deleted == -1:
			deleted = i
		}
	}
	if created == -1 || updated == -1 || deleted == -1 {
		t.Fatalf("expected created, updated and deleted events, got %v", rec.names())
	}
	if !(created < updated && updated < deleted) {
		t.Fatalf("expected created < updated < deleted order, got %v", rec.names())
	}
}

func TestFlushDeduplicatesRepeatedTouches(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	rec.reset()

	m.SetLocked(false)
	cms, _ := m.State().Map("cm")
	cm, _ := cms.Get(5)
	if err := cm.Set("name", "first"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cm.Set("name", "second"); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.SetLocked(true)

	if got := rec.count("cm[5].name:updated"); got != 1 {
		t.Fatalf("expected one deduplicated field event, got %d (%v)", got, rec.names())
	}
	if got := rec.count("cm:updated"); got != 1 {
		t.Fatalf("expected one deduplicated kind event, got %d", got)
	}
}

func TestCoalesceWindowCollapsesBursts(t *testing.T) {
	rec := &recorder{}
	m := NewStateManager(rec.sink, WithCoalesceWindow(5*time.Millisecond))
	if err := m.SetInitialState(initialCourseDoc()); err != nil {
		t.Fatalf("set initial state: %v", err)
	}
	rec.reset()

	m.SetLocked(false)
	course, _ := m.State().Entity("course")
	if err := course.Set("name", "renamed"); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.SetLocked(true)

	if rec.len() != 0 {
		t.Fatalf("expected no synchronous delivery inside coalescing window, got %v", rec.names())
	}
	deadline := time.Now().Add(time.Second)
	for rec.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rec.count("course.name:updated") != 1 {
		t.Fatalf("expected coalesced flush to deliver the field event, got %v", rec.names())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var sections []map[string]any
	if err := json.Unmarshal(snap["section"], &sections); err != nil {
		t.Fatalf("expected section bucket to be a plain array: %v", err)
	}
	if len(sections) != 1 || sections[0]["name"] != "S1" {
		t.Fatalf("unexpected section snapshot: %v", sections)
	}

	doc, err := snap.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	restored := NewStateManager(nil)
	if err := restored.SetInitialState(doc); err != nil {
		t.Fatalf("restore: %v", err)
	}
	cms, _ := restored.State().Map("cm")
	if _, ok := cms.Get(5); !ok {
		t.Fatal("expected restored tree to contain cm 5")
	}
}

func TestSnapshotBeforeLoadFails(t *testing.T) {
	m := NewStateManager(nil)
	if _, err := m.Snapshot(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
