package state

import (
	"encoding/json"
	"fmt"
)

// StateMap is an id-keyed, insertion-ordered collection of entities of one
// kind. Mutation methods enforce the manager lock and enqueue change
// notifications; bulk population during the initial load bypasses both.
type StateMap struct {
	manager *StateManager
	kind    string
	order   []string
	entries map[string]*Entity
}

func newStateMap(m *StateManager, kind string) *StateMap {
	return &StateMap{
		manager: m,
		kind:    kind,
		entries: make(map[string]*Entity),
	}
}

// Kind returns the entity-kind name the map stores.
func (s *StateMap) Kind() string { return s.kind }

// Len returns the number of stored entities.
func (s *StateMap) Len() int { return len(s.entries) }

// Has reports whether an entity with the given id exists.
func (s *StateMap) Has(id any) bool {
	key, ok := canonicalID(id)
	if !ok {
		return false
	}
	_, ok = s.entries[key]
	return ok
}

// Get returns the entity stored under id.
func (s *StateMap) Get(id any) (*Entity, bool) {
	key, ok := canonicalID(id)
	if !ok {
		return nil, false
	}
	e, ok := s.entries[key]
	return e, ok
}

// Values returns the stored entities in insertion order.
func (s *StateMap) Values() []*Entity {
	out := make([]*Entity, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.entries[key])
	}
	return out
}

// Set stores an entity under id. The id must equal the record's own id field.
// The action is "created" when the key was absent and "updated" otherwise;
// replacing an entry emits "updated" even when the new record carries
// identical fields, because the whole entity reference changes.
func (s *StateMap) Set(id any, fields map[string]any) (*Entity, error) {
	if s.manager.isLocked() {
		return nil, ErrLocked{Kind: s.kind}
	}
	key, ok := canonicalID(id)
	if !ok {
		return nil, ErrMissingID{Kind: s.kind}
	}
	valueID, ok := canonicalID(fields["id"])
	if !ok {
		return nil, ErrMissingID{Kind: s.kind}
	}
	if valueID != key {
		return nil, ErrIDMismatch{Kind: s.kind, Key: key, ID: valueID}
	}
	action := ActionUpdated
	if _, exists := s.entries[key]; !exists {
		action = ActionCreated
		s.order = append(s.order, key)
	}
	entity := newEntity(s.manager, s.kind, fields)
	s.entries[key] = entity
	if s.manager.isReady() {
		s.manager.enqueue(fmt.Sprintf("%s[%s]:%s", s.kind, key, action), action, entity)
		s.manager.enqueue(fmt.Sprintf("%s:%s", s.kind, action), action, entity)
		s.manager.scheduleFlush()
	}
	return entity, nil
}

// Add stores an entity keyed by its own id field.
func (s *StateMap) Add(fields map[string]any) (*Entity, error) {
	id, ok := canonicalID(fields["id"])
	if !ok {
		return nil, ErrMissingID{Kind: s.kind}
	}
	return s.Set(id, fields)
}

// Delete removes the entity stored under id, reporting whether it existed.
func (s *StateMap) Delete(id any) (bool, error) {
	if s.manager.isLocked() {
		return false, ErrLocked{Kind: s.kind}
	}
	key, ok := canonicalID(id)
	if !ok {
		return false, nil
	}
	entity, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.manager.isReady() {
		s.manager.enqueue(fmt.Sprintf("%s[%s]:%s", s.kind, key, ActionDeleted), ActionDeleted, entity)
		s.manager.enqueue(fmt.Sprintf("%s:%s", s.kind, ActionDeleted), ActionDeleted, entity)
		s.manager.scheduleFlush()
	}
	return true, nil
}

// LoadValues bulk-populates the map during the initial load. No notifications
// are produced: the tree is not ready yet.
func (s *StateMap) LoadValues(values []map[string]any) error {
	for _, fields := range values {
		key, ok := canonicalID(fields["id"])
		if !ok {
			return ErrMissingID{Kind: s.kind}
		}
		if _, exists := s.entries[key]; !exists {
			s.order = append(s.order, key)
		}
		s.entries[key] = newEntity(s.manager, s.kind, fields)
	}
	return nil
}

// MarshalJSON serializes the map as a plain ordered array of its values,
// not its internal key index.
func (s *StateMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}
