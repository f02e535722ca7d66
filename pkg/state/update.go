package state

import "encoding/json"

// Update is one record returned by the update service: the entity kind it
// addresses, the action to apply, and the entity fields. Fields must carry an
// id except for creates that introduce a new scalar kind.
type Update struct {
	Name   string         `json:"name"`
	Action string         `json:"action,omitempty"`
	Fields map[string]any `json:"fields"`
}

// DecodeUpdates parses a JSON array of update records, the shape the update
// service responds with.
func DecodeUpdates(raw []byte) ([]Update, error) {
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// UpdateHandler overrides how one update action is applied. Overrides are the
// engine's single policy-injection point.
type UpdateHandler func(m *StateManager, u Update) error

// UpdateMissingAsCreate is an UpdateHandler for the "update" action that
// treats records addressing an id absent from its StateMap as creates.
// Refresh mutations use it so server-introduced entities do not fail the
// update pass.
func UpdateMissingAsCreate(m *StateManager, u Update) error {
	if node, ok := m.state.nodes[u.Name]; ok && node.collection != nil {
		if id, ok := canonicalID(u.Fields["id"]); ok && !node.collection.Has(id) {
			return m.applyCreate(u)
		}
	}
	return m.applyUpdate(u)
}

// Snapshot is a per-kind JSON export of the state tree, the unit stored by
// snapshot persistence backends. Collections serialize as ordered arrays.
type Snapshot map[string]json.RawMessage

// Document decodes the snapshot back into an initial-state document.
func (s Snapshot) Document() (map[string]any, error) {
	doc := make(map[string]any, len(s))
	for kind, payload := range s {
		var value any
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, err
		}
		doc[kind] = value
	}
	return doc, nil
}
