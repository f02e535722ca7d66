package state

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle misuse.
var (
	// ErrAlreadyInitialized is returned when SetInitialState is called on a
	// manager that already ingested an initial state document.
	ErrAlreadyInitialized = errors.New("state: initial state already loaded")
	// ErrNotInitialized is returned when updates are applied before the
	// initial state document has been loaded.
	ErrNotInitialized = errors.New("state: initial state not loaded")
)

// ErrLocked reports a write attempted while the state tree was locked. It
// names the entity kind and, for field writes, the offending field.
type ErrLocked struct {
	Kind  string
	Field string
}

func (e ErrLocked) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("state is locked: cannot write %s.%s", e.Kind, e.Field)
	}
	return fmt.Sprintf("state is locked: cannot modify %s", e.Kind)
}

// ErrMissingID reports an entity record without a usable id field.
type ErrMissingID struct {
	Kind string
}

func (e ErrMissingID) Error() string {
	return fmt.Sprintf("%s entity requires an id field", e.Kind)
}

// ErrIDMismatch reports a StateMap insertion whose key differs from the
// entity's own id.
type ErrIDMismatch struct {
	Kind string
	Key  string
	ID   string
}

func (e ErrIDMismatch) Error() string {
	return fmt.Sprintf("%s key %s does not match entity id %s", e.Kind, e.Key, e.ID)
}

// ErrUnknownKind reports an update addressed to a top-level kind that the
// initial state document never declared.
type ErrUnknownKind struct {
	Kind string
}

func (e ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown state kind %q", e.Kind)
}

// ErrEntityNotFound reports an update or delete addressed to an id absent
// from its StateMap.
type ErrEntityNotFound struct {
	Kind string
	ID   string
}

func (e ErrEntityNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ErrScalarKind reports a collection-only operation addressed to a scalar
// entity kind.
type ErrScalarKind struct {
	Kind   string
	Action string
}

func (e ErrScalarKind) Error() string {
	return fmt.Sprintf("cannot %s on scalar kind %s", e.Action, e.Kind)
}

// ErrUnknownMutation reports a dispatch for a name with no registered
// mutation.
type ErrUnknownMutation struct {
	Name string
}

func (e ErrUnknownMutation) Error() string {
	return fmt.Sprintf("unknown mutation %q", e.Name)
}

// ErrInvalidWatcher reports a component watcher missing its event pattern or
// handler.
type ErrInvalidWatcher struct {
	Component string
}

func (e ErrInvalidWatcher) Error() string {
	return fmt.Sprintf("component %s declares a watcher without watch pattern or handler", e.Component)
}
