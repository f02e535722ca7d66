// Package state implements the reactive course-editor state engine: an
// observable, mutation-gated in-memory store that keeps independently rendered
// consumers synchronized with a server-derived course model.
//
// The state tree maps entity-kind names to either a single Entity or a
// StateMap of entities keyed by id. Outside of a mutation the tree is locked;
// mutations unlock it, apply update records received from an update service,
// and re-lock it, at which point the accumulated change events are ordered,
// deduplicated, and delivered to registered watchers in one flush.
package state
