package state

import "sort"

// EventStateLoaded is the one-time notification fired after the initial state
// document has been ingested. It is delivered synchronously, outside the
// flush queue, and replayed to watchers that register late.
const EventStateLoaded = "state:loaded"

// Event is a change notification delivered to watchers on flush. Element is
// the affected entity, nil for tree-level notifications such as the initial
// load.
type Event struct {
	Name    string
	Action  Action
	State   *State
	Element *Entity
}

// EventSink receives ordered, deduplicated events from a StateManager flush.
type EventSink func(Event)

type pendingEvent struct {
	name     string
	action   Action
	entityID string
	element  *Entity
	seq      int
}

// orderPending sorts a flush batch by semantic action weight so consumers see
// creations before updates before deletions even when enqueued out of order.
// Ties go to the longer, more specific event name; enqueue order breaks the
// rest.
func orderPending(pending []pendingEvent) {
	sort.Slice(pending, func(i, j int) bool {
		wi, wj := pending[i].action.weight(), pending[j].action.weight()
		if wi != wj {
			return wi < wj
		}
		if len(pending[i].name) != len(pending[j].name) {
			return len(pending[i].name) > len(pending[j].name)
		}
		return pending[i].seq < pending[j].seq
	})
}

// dedupePending drops repeated (event name, entity id) pairs so that touching
// the same field several times within one flush window emits once.
func dedupePending(pending []pendingEvent) []pendingEvent {
	seen := make(map[string]struct{}, len(pending))
	out := pending[:0]
	for _, ev := range pending {
		key := ev.name + "\x00" + ev.entityID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ev)
	}
	return out
}
