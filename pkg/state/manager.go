package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// kindNode is the tagged variant stored per top-level state key: either a
// scalar entity or a collection. The variant is decided once, from the shape
// of the initial state document.
type kindNode struct {
	entity     *Entity
	collection *StateMap
}

// State is the tree of entity kinds owned by a StateManager.
type State struct {
	nodes map[string]*kindNode
}

// Has reports whether the tree declares the given kind.
func (s *State) Has(kind string) bool {
	_, ok := s.nodes[kind]
	return ok
}

// Map returns the StateMap stored under kind, if the kind is a collection.
func (s *State) Map(kind string) (*StateMap, bool) {
	node, ok := s.nodes[kind]
	if !ok || node.collection == nil {
		return nil, false
	}
	return node.collection, true
}

// Entity returns the scalar entity stored under kind.
func (s *State) Entity(kind string) (*Entity, bool) {
	node, ok := s.nodes[kind]
	if !ok || node.entity == nil {
		return nil, false
	}
	return node.entity, true
}

// Kinds returns the declared top-level kinds in sorted order.
func (s *State) Kinds() []string {
	out := make([]string, 0, len(s.nodes))
	for kind := range s.nodes {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON serializes the tree as one object keyed by kind, with
// collections rendered as ordered arrays.
func (s *State) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.nodes))
	for kind, node := range s.nodes {
		if node.collection != nil {
			doc[kind] = node.collection
		} else {
			doc[kind] = node.entity
		}
	}
	return json.Marshal(doc)
}

// StateManager owns the state tree, the locking discipline, the pending-event
// queue, and update application. All writes outside the unlocked window a
// mutation opens fail; re-locking flushes the accumulated events in one
// ordered, deduplicated batch.
type StateManager struct {
	mu       sync.Mutex
	sink     EventSink
	state    *State
	locked   bool
	ready    bool
	pending  []pendingEvent
	seq      int
	coalesce time.Duration
	timer    *time.Timer
}

// ManagerOption configures a StateManager.
type ManagerOption func(*StateManager)

// WithCoalesceWindow defers event delivery by the given window instead of
// flushing synchronously on re-lock, collapsing bursts from several unlock
// windows into one batch. Zero (the default) flushes on re-lock.
func WithCoalesceWindow(d time.Duration) ManagerOption {
	return func(m *StateManager) { m.coalesce = d }
}

// NewStateManager constructs a manager delivering flushed events to sink.
func NewStateManager(sink EventSink, opts ...ManagerOption) *StateManager {
	m := &StateManager{
		sink:  sink,
		state: &State{nodes: make(map[string]*kindNode)},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the live state tree. Writes remain gated by the lock.
func (m *StateManager) State() *State { return m.state }

// Initialized reports whether the initial state document has been loaded.
func (m *StateManager) Initialized() bool { return m.isReady() }

// Locked reports whether the write gate is closed.
func (m *StateManager) Locked() bool { return m.isLocked() }

func (m *StateManager) isLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

func (m *StateManager) isReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// SetInitialState builds the state tree from a decoded JSON document. Array
// values become StateMaps (loaded silently), object values become scalar
// entities. The tree locks, and a single "state:loaded" notification fires
// synchronously. A second call fails.
func (m *StateManager) SetInitialState(doc map[string]any) error {
	m.mu.Lock()
	if m.ready {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.mu.Unlock()

	kinds := make([]string, 0, len(doc))
	for kind := range doc {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		switch value := doc[kind].(type) {
		case []any:
			collection := newStateMap(m, kind)
			records := make([]map[string]any, 0, len(value))
			for _, item := range value {
				fields, ok := item.(map[string]any)
				if !ok {
					return fmt.Errorf("state kind %q: collection values must be objects, got %T", kind, item)
				}
				records = append(records, fields)
			}
			if err := collection.LoadValues(records); err != nil {
				return err
			}
			m.state.nodes[kind] = &kindNode{collection: collection}
		case map[string]any:
			m.state.nodes[kind] = &kindNode{entity: newEntity(m, kind, value)}
		default:
			return fmt.Errorf("state kind %q: unsupported value type %T", kind, doc[kind])
		}
	}

	m.mu.Lock()
	m.ready = true
	m.locked = true
	m.mu.Unlock()

	if m.sink != nil {
		m.sink(Event{Name: EventStateLoaded, Action: ActionLoaded, State: m.state})
	}
	return nil
}

// SetInitialStateJSON decodes a raw initial state document and loads it.
func (m *StateManager) SetInitialStateJSON(raw []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode initial state: %w", err)
	}
	return m.SetInitialState(doc)
}

// SetLocked toggles the write gate. Mutations are the only legitimate
// callers. Re-locking publishes the pending event batch unless a coalescing
// window is configured.
func (m *StateManager) SetLocked(locked bool) {
	m.mu.Lock()
	was := m.locked
	m.locked = locked
	m.mu.Unlock()
	if locked && !was {
		if m.coalesce > 0 {
			m.scheduleFlush()
			return
		}
		m.Flush()
	}
}

// enqueue appends one change notification to the pending batch.
func (m *StateManager) enqueue(name string, action Action, element *Entity) {
	var id string
	if element != nil {
		if eid, ok := element.ID(); ok {
			id = eid
		}
	}
	m.mu.Lock()
	m.seq++
	m.pending = append(m.pending, pendingEvent{
		name:     name,
		action:   action,
		entityID: id,
		element:  element,
		seq:      m.seq,
	})
	m.mu.Unlock()
}

// scheduleFlush arms the coalescing timer when a window is configured. With
// no window the batch waits for the explicit flush on re-lock.
func (m *StateManager) scheduleFlush() {
	if m.coalesce <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.coalesce, m.Flush)
}

// Flush orders, deduplicates, and delivers the pending event batch.
func (m *StateManager) Flush() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(pending) == 0 || m.sink == nil {
		return
	}
	orderPending(pending)
	pending = dedupePending(pending)
	for _, ev := range pending {
		m.sink(Event{Name: ev.name, Action: ev.action, State: m.state, Element: ev.element})
	}
}

// ProcessUpdates unlocks the tree, applies each update record in sequence,
// and re-locks. Earlier records stay applied when a later one fails; the
// re-lock and flush run regardless, so a failed batch can never leave the
// tree unlocked. Overrides substitute the handler for individual update
// actions and may be nil.
func (m *StateManager) ProcessUpdates(updates []Update, overrides map[string]UpdateHandler) error {
	if !m.isReady() {
		return ErrNotInitialized
	}
	m.SetLocked(false)
	defer m.SetLocked(true)
	for _, u := range updates {
		if err := m.ProcessUpdate(u, overrides); err != nil {
			return fmt.Errorf("process update %s: %w", u.Name, err)
		}
	}
	return nil
}

// ProcessUpdate applies one update record. The caller must hold the tree
// unlocked.
func (m *StateManager) ProcessUpdate(u Update, overrides map[string]UpdateHandler) error {
	action := u.Action
	if action == "" {
		action = UpdateUpdate
	}
	if handler, ok := overrides[action]; ok && handler != nil {
		return handler(m, u)
	}
	switch action {
	case UpdateCreate:
		return m.applyCreate(u)
	case UpdateUpdate:
		return m.applyUpdate(u)
	case UpdateDelete:
		return m.applyDelete(u)
	default:
		return fmt.Errorf("unknown update action %q", action)
	}
}

func (m *StateManager) applyCreate(u Update) error {
	node, ok := m.state.nodes[u.Name]
	if !ok {
		// A create without an id introduces a new scalar kind; collections
		// are declared at initial load only.
		if _, hasID := canonicalID(u.Fields["id"]); hasID {
			return ErrUnknownKind{Kind: u.Name}
		}
		entity := newEntity(m, u.Name, u.Fields)
		m.state.nodes[u.Name] = &kindNode{entity: entity}
		m.enqueue(fmt.Sprintf("%s:%s", u.Name, ActionCreated), ActionCreated, entity)
		m.scheduleFlush()
		return nil
	}
	if node.collection == nil {
		return ErrScalarKind{Kind: u.Name, Action: UpdateCreate}
	}
	_, err := node.collection.Add(u.Fields)
	return err
}

func (m *StateManager) applyUpdate(u Update) error {
	current, err := m.resolveTarget(u)
	if err != nil {
		return err
	}
	for _, field := range sortedFieldNames(u.Fields) {
		if err := current.Set(field, u.Fields[field]); err != nil {
			return err
		}
	}
	return nil
}

func (m *StateManager) applyDelete(u Update) error {
	node, ok := m.state.nodes[u.Name]
	if !ok {
		return ErrUnknownKind{Kind: u.Name}
	}
	if node.collection == nil {
		// Scalar kinds delete the whole top-level key.
		delete(m.state.nodes, u.Name)
		m.enqueue(fmt.Sprintf("%s:%s", u.Name, ActionDeleted), ActionDeleted, node.entity)
		m.scheduleFlush()
		return nil
	}
	id, ok := canonicalID(u.Fields["id"])
	if !ok {
		return ErrMissingID{Kind: u.Name}
	}
	deleted, err := node.collection.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrEntityNotFound{Kind: u.Name, ID: id}
	}
	return nil
}

// resolveTarget locates the entity an update or delete record addresses.
func (m *StateManager) resolveTarget(u Update) (*Entity, error) {
	node, ok := m.state.nodes[u.Name]
	if !ok {
		return nil, ErrUnknownKind{Kind: u.Name}
	}
	if node.collection != nil {
		id, ok := canonicalID(u.Fields["id"])
		if !ok {
			return nil, ErrMissingID{Kind: u.Name}
		}
		entity, ok := node.collection.Get(id)
		if !ok {
			return nil, ErrEntityNotFound{Kind: u.Name, ID: id}
		}
		return entity, nil
	}
	return node.entity, nil
}

// Snapshot exports the state tree as one JSON payload per top-level kind.
func (m *StateManager) Snapshot() (Snapshot, error) {
	if !m.isReady() {
		return nil, ErrNotInitialized
	}
	snap := make(Snapshot, len(m.state.nodes))
	for kind, node := range m.state.nodes {
		var payload []byte
		var err error
		if node.collection != nil {
			payload, err = json.Marshal(node.collection)
		} else {
			payload, err = json.Marshal(node.entity)
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", kind, err)
		}
		snap[kind] = payload
	}
	return snap, nil
}
