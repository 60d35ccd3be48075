package scene

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maretko/drawbridge/idgen"
)

// Store is the in-process element collection. All mutations and the event
// emissions they cause happen under one lock, so the order between "mutation
// visible" and "event observed" is total: no sink ever sees an event before
// a concurrent Snapshot would see the mutation itself.
type Store struct {
	mu       sync.Mutex
	elements map[string]*Element
	order    []string
	newID    idgen.Generator
	sink     Sink
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets a custom generator for server-assigned element IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithSink sets the mutation event sink. The sink runs synchronously under
// the store lock; it must enqueue, not block.
func WithSink(sink Sink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithClock sets the timestamp source. Tests use this to pin time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		elements: make(map[string]*Element),
		newID:    idgen.Element,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) emit(ev Event) {
	if s.sink != nil {
		s.sink(ev)
	}
}

// stamp assigns identity and bookkeeping to a new element. Caller-supplied
// IDs are kept (batch callers may pre-assign); empty IDs get a fresh one.
func (s *Store) stamp(el *Element) {
	if el.ID == "" {
		el.ID = s.newID()
	}
	now := s.now().UnixMilli()
	el.Version = 1
	el.CreatedAt = now
	el.UpdatedAt = now
}

// Create inserts a single element, assigning an ID if the caller supplied
// none, and emits one element_created event.
func (s *Store) Create(el Element) Element {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stamp(&el)
	s.insert(&el)
	stored := el
	s.emit(Event{Type: EventCreated, Element: &stored})
	return el
}

// CreateBatch inserts elements in order and emits exactly one
// elements_batch_created event, so a listener never observes a partial
// batch. All entries get IDs before any is visible.
func (s *Store) CreateBatch(els []Element) []Element {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Element, len(els))
	for i := range els {
		el := els[i]
		s.stamp(&el)
		s.insert(&el)
		out[i] = el
	}
	batch := make([]Element, len(out))
	copy(batch, out)
	s.emit(Event{Type: EventBatchCreated, Elements: batch})
	return out
}

// Patch merges fields into the existing record, bumps Version by one and
// refreshes UpdatedAt. ID, Version, CreatedAt and UpdatedAt in fields are
// ignored: they are server-owned. Returns ErrNotFound if id is absent; the
// store is left untouched and no event is emitted.
func (s *Store) Patch(id string, fields map[string]any) (Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.elements[id]
	if !ok {
		return Element{}, fmt.Errorf("patch %s: %w", id, ErrNotFound)
	}

	merged, err := mergeFields(*cur, fields)
	if err != nil {
		return Element{}, fmt.Errorf("patch %s: %w", id, err)
	}
	merged.ID = cur.ID
	merged.Version = cur.Version + 1
	merged.CreatedAt = cur.CreatedAt
	merged.UpdatedAt = s.now().UnixMilli()

	*cur = merged
	stored := merged
	s.emit(Event{Type: EventUpdated, Element: &stored})
	return merged, nil
}

// Remove deletes by ID. Returns ErrNotFound if absent.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.elements[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	delete(s.elements, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.emit(Event{Type: EventDeleted, ID: id})
	return nil
}

// Clear empties the store unconditionally and returns the number of
// elements removed. Always succeeds; always emits a clear event.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.elements)
	s.elements = make(map[string]*Element)
	s.order = s.order[:0]
	s.emit(Event{Type: EventClear})
	return n
}

// Snapshot returns copies of the current elements. Insertion order is
// preserved as a courtesy to renderers but is not part of the contract.
func (s *Store) Snapshot() []Element {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Element, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.elements[id])
	}
	return out
}

// Get returns a copy of one element.
func (s *Store) Get(id string) (Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.elements[id]
	if !ok {
		return Element{}, false
	}
	return *el, true
}

// Len returns the current element count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}

func (s *Store) insert(el *Element) {
	if _, exists := s.elements[el.ID]; !exists {
		s.order = append(s.order, el.ID)
	}
	s.elements[el.ID] = el
}

// mergeFields overlays a partial field map onto an element via its JSON
// form, so callers patch with the same names the wire uses.
func mergeFields(cur Element, fields map[string]any) (Element, error) {
	raw, err := json.Marshal(cur)
	if err != nil {
		return Element{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Element{}, err
	}
	for k, v := range fields {
		switch k {
		case "id", "version", "createdAt", "updatedAt":
			continue
		}
		m[k] = v
	}
	raw, err = json.Marshal(m)
	if err != nil {
		return Element{}, err
	}
	var out Element
	if err := json.Unmarshal(raw, &out); err != nil {
		return Element{}, err
	}
	return out, nil
}
