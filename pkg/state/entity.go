package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Entity is an observable field bag. Field writes go through explicit setters
// that enforce the manager's lock, short-circuit no-op writes, and enqueue
// change notifications; there is no transparent property interception.
type Entity struct {
	manager *StateManager
	kind    string
	fields  map[string]any
}

func newEntity(m *StateManager, kind string, fields map[string]any) *Entity {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Entity{manager: m, kind: kind, fields: cp}
}

// Kind returns the entity-kind name the entity is stored under.
func (e *Entity) Kind() string { return e.kind }

// ID returns the canonical form of the entity's id field, if present.
func (e *Entity) ID() (string, bool) { return canonicalID(e.fields["id"]) }

// Get returns the current value of a field.
func (e *Entity) Get(field string) (any, bool) {
	v, ok := e.fields[field]
	return v, ok
}

// Fields returns a copy of the entity's fields.
func (e *Entity) Fields() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Set writes a field value. The lock check runs first: writing while the
// owning manager is locked fails and leaves the entity untouched. A value
// deeply equal (by JSON form) to the current one is a silent no-op, which
// keeps idempotent server syncs from producing event storms.
func (e *Entity) Set(field string, value any) error {
	if e.manager.isLocked() {
		return ErrLocked{Kind: e.kind, Field: field}
	}
	current, existed := e.fields[field]
	if existed && jsonEqual(current, value) {
		return nil
	}
	e.fields[field] = value
	action := ActionUpdated
	if !existed {
		action = ActionCreated
	}
	e.emit(field, action)
	return nil
}

// Delete removes a field. It reports whether the field existed; removing an
// absent field is a no-op.
func (e *Entity) Delete(field string) (bool, error) {
	if e.manager.isLocked() {
		return false, ErrLocked{Kind: e.kind, Field: field}
	}
	if _, ok := e.fields[field]; !ok {
		return false, nil
	}
	delete(e.fields, field)
	e.emit(field, ActionDeleted)
	return true, nil
}

// emit enqueues the notification fan-out for one field change. The entity
// itself rides along as the event payload.
func (e *Entity) emit(field string, action Action) {
	m := e.manager
	if !m.isReady() {
		return
	}
	entityAction := action
	if action == ActionDeleted {
		entityAction = ActionUpdated
	}
	m.enqueue(fmt.Sprintf("%s.%s:%s", e.kind, field, action), action, e)
	if id, ok := e.ID(); ok {
		m.enqueue(fmt.Sprintf("%s[%s].%s:%s", e.kind, id, field, action), action, e)
		m.enqueue(fmt.Sprintf("%s[%s]:%s", e.kind, id, entityAction), entityAction, e)
	}
	m.enqueue(e.kind+":updated", ActionUpdated, e)
	m.scheduleFlush()
}

// MarshalJSON serializes the entity as a plain field object.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.fields)
}

// sortedFieldNames returns the entity record's field names in a stable order,
// so bulk assignment applies deterministically.
func sortedFieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// jsonEqual compares two values by their JSON form. Unencodable values never
// compare equal, so the write proceeds and surfaces downstream.
func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// canonicalID normalizes the id forms that reach the engine: server JSON
// decodes numbers to float64 while callers tend to pass ints or strings. All
// forms of the same id must address the same StateMap entry.
func canonicalID(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		if id == "" {
			return "", false
		}
		return id, true
	case json.Number:
		return id.String(), true
	case float64:
		if id == math.Trunc(id) && !math.IsInf(id, 0) {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case float32:
		return canonicalID(float64(id))
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint:
		return strconv.FormatUint(uint64(id), 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	default:
		return "", false
	}
}
