package canvas

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/maretko/drawbridge/scene"
)

// sendBuffer is the per-viewer outbound queue depth. A viewer that falls
// this far behind is dropped; it reloads with a fresh snapshot on reconnect,
// which is cheaper than replay bookkeeping.
const sendBuffer = 256

// viewer is one registered live connection. Writes go through the send
// channel; the transport's write loop owns the actual socket.
type viewer struct {
	id   string
	send chan []byte
	once sync.Once
}

// close makes the write loop exit. Safe to call from multiple goroutines.
func (v *viewer) close() {
	v.once.Do(func() { close(v.send) })
}

// enqueue queues a message without blocking. Only called while the hub
// lock is held, which is what keeps it ordered before close.
func (v *viewer) enqueue(msg []byte) bool {
	select {
	case v.send <- msg:
		return true
	default:
		return false
	}
}

// Hub is the explicit registry of active viewer connections. Broadcast is a
// fan-out over that registry: marshal once, enqueue per viewer. Slow or dead
// viewers are dropped individually; one viewer's failure never affects the
// others.
type Hub struct {
	mu      sync.Mutex
	viewers map[string]*viewer
	logger  *slog.Logger
}

// NewHub creates an empty registry.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{viewers: make(map[string]*viewer), logger: logger}
}

// add registers a viewer and enqueues its initial messages atomically with
// respect to Broadcast, so the snapshot always precedes any later event.
func (h *Hub) add(v *viewer, initial ...[]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.viewers[v.id] = v
	for _, msg := range initial {
		v.enqueue(msg)
	}
}

// remove unregisters a viewer and closes its queue.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	v, ok := h.viewers[id]
	if ok {
		delete(h.viewers, id)
	}
	h.mu.Unlock()
	if ok {
		v.close()
	}
}

// Broadcast delivers one event to every registered viewer, at most once
// each. Each viewer sees events in emission order (FIFO queue per viewer);
// no ordering is coordinated across viewers.
func (h *Hub) Broadcast(ev scene.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("hub: marshal event", "error", err, "type", ev.Type)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, v := range h.viewers {
		if !v.enqueue(msg) {
			h.logger.Warn("hub: viewer lagging, dropping", "viewer_id", id)
			delete(h.viewers, id)
			v.close()
		}
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}
