package scene

// EventType identifies a scene-mutation event on the live channel.
type EventType string

const (
	EventSnapshot     EventType = "scene_snapshot"
	EventCreated      EventType = "element_created"
	EventBatchCreated EventType = "elements_batch_created"
	EventUpdated      EventType = "element_updated"
	EventDeleted      EventType = "element_deleted"
	EventClear        EventType = "clear"
	EventRefresh      EventType = "refresh"
)

// Event carries enough information for a listener to reproduce the mutation
// on a previously-synced copy of the scene: the full element body for
// create/update, the bare ID for delete, a reset marker for clear.
type Event struct {
	Type     EventType `json:"type"`
	Element  *Element  `json:"element,omitempty"`
	Elements []Element `json:"elements,omitempty"`
	ID       string    `json:"id,omitempty"`
}

// Sink receives mutation events. The store invokes it synchronously under
// its write lock, so sinks observe events in mutation order and must not
// block (fan-out layers enqueue, they do not write on the caller's time).
type Sink func(Event)
