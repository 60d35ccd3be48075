// Package canvas exposes CRUD over the scene store and fans every mutation
// out to connected viewers. One request maps to exactly one broadcast event
// (zero on validation failure); a batch create is one event, not N.
package canvas

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/maretko/drawbridge/idgen"
	"github.com/maretko/drawbridge/observability"
	"github.com/maretko/drawbridge/scene"
)

// Service owns the scene store exclusively: no other component writes to it.
// A single mutex serializes mutations, broadcasts and viewer attachment, so
// "mutation visible in store" always precedes "event observed by a viewer",
// and a viewer attaching mid-stream gets a snapshot that is consistent with
// every event queued after it.
type Service struct {
	mu     sync.Mutex
	store  *scene.Store
	hub    *Hub
	logger *slog.Logger
	audit  *observability.MutationLog

	newViewerID idgen.Generator
	storeOpts   []scene.Option
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithAudit wires an SQLite mutation log. Nil-safe: without it the service
// runs fully volatile.
func WithAudit(log *observability.MutationLog) ServiceOption {
	return func(s *Service) { s.audit = log }
}

// WithElementIDs sets the generator for server-assigned element IDs.
func WithElementIDs(gen idgen.Generator) ServiceOption {
	return func(s *Service) { s.storeOpts = append(s.storeOpts, scene.WithIDGenerator(gen)) }
}

// New creates a Service with an empty scene.
func New(opts ...ServiceOption) *Service {
	s := &Service{
		logger:      slog.Default(),
		newViewerID: idgen.Viewer,
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = NewHub(s.logger)
	storeOpts := append(s.storeOpts, scene.WithSink(s.dispatch))
	s.store = scene.New(storeOpts...)
	return s
}

// dispatch is the store's event sink: fan out to viewers, then audit.
// Runs under the store lock; both receivers enqueue without blocking.
func (s *Service) dispatch(ev scene.Event) {
	s.hub.Broadcast(ev)
	if s.audit != nil {
		s.audit.Record(ev)
	}
}

// CreateElement stores one element, assigning an ID if the caller supplied
// none, and returns the stored record.
func (s *Service) CreateElement(el scene.Element) scene.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Create(el)
}

// CreateBatch stores elements in order, atomically with respect to
// broadcast: viewers see the whole batch or none of it.
func (s *Service) CreateBatch(els []scene.Element) []scene.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CreateBatch(els)
}

// UpdateElement merges fields into an existing element. Never creates:
// returns scene.ErrNotFound for unknown IDs.
func (s *Service) UpdateElement(id string, fields map[string]any) (scene.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Patch(id, fields)
}

// DeleteElement removes one element. Returns scene.ErrNotFound if absent.
func (s *Service) DeleteElement(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Remove(id)
}

// ClearScene empties the scene unconditionally and returns the count
// removed. Any persisted ID mapping that referenced this scene is stale from
// here on; reconcilers detect that and fall back to a full push.
func (s *Service) ClearScene() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clear()
}

// Refresh instructs every connected viewer to re-pull a full snapshot. No
// scene mutation, no audit row.
func (s *Service) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hub.Broadcast(scene.Event{Type: scene.EventRefresh})
}

// Snapshot returns the current elements.
func (s *Service) Snapshot() []scene.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

// ElementCount returns the live element count.
func (s *Service) ElementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

// ViewerCount returns the number of connected viewers.
func (s *Service) ViewerCount() int {
	return s.hub.Count()
}

// attach registers a new viewer whose first queued message is a snapshot of
// the scene as of this instant. Holding the service lock here is what makes
// "snapshot, then every later event" gap-free.
func (s *Service) attach() *viewer {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := scene.Event{Type: scene.EventSnapshot, Elements: s.store.Snapshot()}
	msg, err := marshalEvent(snap)
	v := &viewer{id: s.newViewerID(), send: make(chan []byte, sendBuffer)}
	if err != nil {
		s.logger.Error("canvas: marshal snapshot", "error", err)
		s.hub.add(v)
		return v
	}
	s.hub.add(v, msg)
	return v
}

func marshalEvent(ev scene.Event) ([]byte, error) {
	return json.Marshal(ev)
}
