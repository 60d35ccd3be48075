package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maretko/drawbridge/scene"
)

// RegisterHTTP mounts the canvas API on a chi router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/elements", s.handleSnapshot)
		r.Post("/elements", s.handleCreate)
		r.Post("/elements/batch", s.handleCreateBatch)
		r.Put("/elements/{id}", s.handleUpdate)
		r.Delete("/elements/{id}", s.handleDelete)
		r.Delete("/elements", s.handleClear)
		r.Post("/refresh", s.handleRefresh)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]any{
		"status":            "ok",
		"elements_count":    s.ElementCount(),
		"websocket_clients": s.ViewerCount(),
	})
}

func (s *Service) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	els := s.Snapshot()
	if els == nil {
		els = []scene.Element{}
	}
	writeJSON(w, 200, map[string]any{"elements": els})
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	var el scene.Element
	if err := json.NewDecoder(r.Body).Decode(&el); err != nil {
		writeError(w, 400, fmt.Errorf("invalid element body: %w", err))
		return
	}
	if el.Type == "" {
		writeError(w, 400, errors.New("element type is required"))
		return
	}
	stored := s.CreateElement(el)
	writeJSON(w, 201, map[string]any{"element": stored})
}

func (s *Service) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Elements []scene.Element `json:"elements"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, fmt.Errorf("batch payload must be {\"elements\": [...]}: %w", err))
		return
	}
	if req.Elements == nil {
		writeError(w, 400, errors.New("batch payload missing elements array"))
		return
	}
	for i, el := range req.Elements {
		if el.Type == "" {
			writeError(w, 400, fmt.Errorf("batch element %d missing type", i))
			return
		}
	}
	stored := s.CreateBatch(req.Elements)
	writeJSON(w, 201, map[string]any{"elements": stored})
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, 400, fmt.Errorf("invalid update body: %w", err))
		return
	}
	el, err := s.UpdateElement(id, fields)
	if err != nil {
		if errors.Is(err, scene.ErrNotFound) {
			writeError(w, 404, err)
			return
		}
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]any{"element": el})
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.DeleteElement(id); err != nil {
		if errors.Is(err, scene.ErrNotFound) {
			writeError(w, 404, err)
			return
		}
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Service) handleClear(w http.ResponseWriter, _ *http.Request) {
	n := s.ClearScene()
	writeJSON(w, 200, map[string]any{"status": "cleared", "deleted": n})
}

func (s *Service) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.Refresh()
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
