// Package viewer maintains a render-ready local copy of a canvas scene,
// fed by the event stream. It expands skeleton elements into full render
// records (a labeled shape becomes the shape plus a bound text element)
// and keeps them in sync as events arrive.
package viewer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/maretko/drawbridge/scene"
)

// State tracks where a viewer is in its lifecycle. Reloading is terminal:
// once a viewer loses sync (disconnect, or a refresh signal) it does not
// patch itself back together, the owner discards it and attaches a new
// one, which gets a fresh snapshot.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReloading
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReloading:
		return "reloading"
	default:
		return "unknown"
	}
}

// echoWindow bounds how long a local mutation suppresses its echoed event.
// The echo normally arrives within a round trip; after this the mark
// expires so a genuinely remote update to the same element is not lost.
const echoWindow = 100 * time.Millisecond

// Model is the viewer's local scene: expanded render elements in
// insertion order. It is driven by Apply and is safe for concurrent use.
type Model struct {
	mu       sync.Mutex
	elements map[string]*scene.Element
	order    []string

	// Events queue here until the first snapshot lands, then replay in
	// arrival order on top of it.
	ready   bool
	pending []scene.Event

	state    State
	suppress map[string]time.Time
	now      func() time.Time

	onChange func()
	logger   *slog.Logger
}

type ModelOption func(*Model)

// WithOnChange registers a callback fired (outside the model lock) after
// every applied change, for render invalidation.
func WithOnChange(fn func()) ModelOption {
	return func(m *Model) { m.onChange = fn }
}

func WithModelLogger(l *slog.Logger) ModelOption {
	return func(m *Model) { m.logger = l }
}

func withClock(now func() time.Time) ModelOption {
	return func(m *Model) { m.now = now }
}

func NewModel(opts ...ModelOption) *Model {
	m := &Model{
		elements: make(map[string]*scene.Element),
		suppress: make(map[string]time.Time),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the model's lifecycle state.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether the initial snapshot has been applied.
func (m *Model) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Elements returns the render list: expanded elements in insertion order.
func (m *Model) Elements() []scene.Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]scene.Element, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.elements[id])
	}
	return out
}

// Len returns the number of render elements, label texts included.
func (m *Model) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// ApplyLocal applies a mutation the owner made itself through the REST
// API, ahead of its echoed event. The element is marked so the echo is
// skipped when it arrives; the mark expires after a bounded window so a
// later remote update to the same element still applies.
func (m *Model) ApplyLocal(el scene.Element) {
	m.mu.Lock()
	m.suppress[el.ID] = m.now().Add(echoWindow)
	m.upsert(el)
	m.mu.Unlock()
	m.changed()
}

// Apply feeds one event from the stream into the model. Before the first
// snapshot, events queue and replay once it lands, so a stream that
// interleaves them still converges in order.
func (m *Model) Apply(ev scene.Event) {
	m.mu.Lock()
	if m.state == StateReloading {
		m.mu.Unlock()
		return
	}
	if !m.ready && ev.Type != scene.EventSnapshot {
		m.pending = append(m.pending, ev)
		m.mu.Unlock()
		return
	}
	m.apply(ev)
	if ev.Type == scene.EventSnapshot {
		replay := m.pending
		m.pending = nil
		for _, queued := range replay {
			m.apply(queued)
		}
	}
	m.mu.Unlock()
	m.changed()
}

// MarkReloading moves the model to its terminal state. Called on
// disconnect and on a refresh signal.
func (m *Model) MarkReloading(reason string) {
	m.mu.Lock()
	if m.state != StateReloading {
		m.state = StateReloading
		m.logger.Info("viewer needs reload", "reason", reason)
	}
	m.mu.Unlock()
	m.changed()
}

func (m *Model) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

// apply runs under the lock.
func (m *Model) apply(ev scene.Event) {
	switch ev.Type {
	case scene.EventSnapshot:
		m.elements = make(map[string]*scene.Element)
		m.order = m.order[:0]
		for _, el := range ev.Elements {
			m.upsert(el)
		}
		m.ready = true
		m.state = StateConnected
	case scene.EventCreated:
		if ev.Element != nil {
			m.upsert(*ev.Element)
		}
	case scene.EventBatchCreated:
		for _, el := range ev.Elements {
			m.upsert(el)
		}
	case scene.EventUpdated:
		if ev.Element == nil {
			return
		}
		if deadline, ok := m.suppress[ev.Element.ID]; ok {
			delete(m.suppress, ev.Element.ID)
			if m.now().Before(deadline) {
				return
			}
		}
		m.upsert(*ev.Element)
	case scene.EventDeleted:
		m.remove(ev.ID)
	case scene.EventClear:
		m.elements = make(map[string]*scene.Element)
		m.order = m.order[:0]
	case scene.EventRefresh:
		// Handled by the transport as a reload signal; nothing to apply.
	}
}

// upsert expands one wire element into its render records and stores
// them, preserving first-insertion order.
func (m *Model) upsert(el scene.Element) {
	shape, label := expand(el)
	m.put(shape)
	if label != nil {
		m.put(*label)
	} else {
		// An update may have dropped a previous label.
		m.remove(labelID(el.ID))
	}
}

func (m *Model) put(el scene.Element) {
	if _, ok := m.elements[el.ID]; !ok {
		m.order = append(m.order, el.ID)
	}
	m.elements[el.ID] = &el
}

// remove deletes an element and its expanded label companion, if any.
func (m *Model) remove(id string) {
	ids := []string{id, labelID(id)}
	for _, victim := range ids {
		if _, ok := m.elements[victim]; !ok {
			continue
		}
		delete(m.elements, victim)
		for i, o := range m.order {
			if o == victim {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

func labelID(id string) string { return id + "_label" }

// expand turns a wire element into render records. Skeleton label sugar
// becomes a separate text element bound to its container; server
// bookkeeping fields are stripped, renderers never see them.
func expand(el scene.Element) (scene.Element, *scene.Element) {
	el.Version = 0
	el.CreatedAt = 0
	el.UpdatedAt = 0

	if el.Label == nil {
		return el, nil
	}
	label := el.Label
	el.Label = nil

	text := scene.Element{
		ID:          labelID(el.ID),
		Type:        "text",
		X:           el.X + el.Width/2,
		Y:           el.Y + el.Height/2,
		Text:        label.Text,
		FontSize:    label.FontSize,
		FontFamily:  label.FontFamily,
		StrokeColor: el.StrokeColor,
		ContainerID: el.ID,
	}
	if text.FontSize == 0 {
		text.FontSize = 16
	}
	el.BoundElements = []scene.Binding{{ID: text.ID, Type: "text"}}
	return el, &text
}
