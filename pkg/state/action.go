package state

// Action tags a change event for flush ordering. Within one flush cycle
// consumers observe creations before updates before deletions.
type Action string

// Event actions carried by change notifications.
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	// ActionLoaded tags the one-time notification fired after the initial
	// state document has been ingested.
	ActionLoaded Action = "loaded"
)

// weight determines relative delivery order inside a flush batch.
func (a Action) weight() int {
	switch a {
	case ActionCreated:
		return 0
	case ActionUpdated:
		return 1
	case ActionDeleted:
		return 2
	default:
		return 3
	}
}

// Update actions accepted from the update service. The empty action is
// treated as UpdateUpdate.
const (
	UpdateCreate = "create"
	UpdateUpdate = "update"
	UpdateDelete = "delete"
)
