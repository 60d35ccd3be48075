package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/maretko/drawbridge/scene"
)

func testServer(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	svc := New()
	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return svc, srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	svc, srv := testServer(t)
	svc.CreateElement(scene.Element{Type: "rectangle"})

	resp, body := doJSON(t, "GET", srv.URL+"/health", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("health: %v", body)
	}
	if body["elements_count"].(float64) != 1 {
		t.Fatalf("elements_count: %v", body["elements_count"])
	}
}

func TestCreateAndSnapshot(t *testing.T) {
	_, srv := testServer(t)

	resp, body := doJSON(t, "POST", srv.URL+"/api/elements", map[string]any{
		"type": "rectangle", "x": 10, "y": 20, "width": 100, "height": 50,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	el := body["element"].(map[string]any)
	if el["id"] == "" || el["id"] == nil {
		t.Fatal("no ID assigned")
	}
	if el["version"].(float64) != 1 {
		t.Fatalf("version: %v", el["version"])
	}

	_, snap := doJSON(t, "GET", srv.URL+"/api/elements", nil)
	els := snap["elements"].([]any)
	if len(els) != 1 {
		t.Fatalf("snapshot: %d elements", len(els))
	}
}

func TestCreate_MissingType(t *testing.T) {
	_, srv := testServer(t)
	resp, _ := doJSON(t, "POST", srv.URL+"/api/elements", map[string]any{"x": 1})
	if resp.StatusCode != 400 {
		t.Fatalf("status: %d, want 400", resp.StatusCode)
	}
}

func TestBatch_NonArrayPayload(t *testing.T) {
	_, srv := testServer(t)

	resp, _ := doJSON(t, "POST", srv.URL+"/api/elements/batch", map[string]any{
		"elements": "not-an-array",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("status: %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, "POST", srv.URL+"/api/elements/batch", map[string]any{})
	if resp.StatusCode != 400 {
		t.Fatalf("missing elements: status %d, want 400", resp.StatusCode)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	svc, srv := testServer(t)

	resp, _ := doJSON(t, "PUT", srv.URL+"/api/elements/el_nope", map[string]any{"x": 5})
	if resp.StatusCode != 404 {
		t.Fatalf("status: %d, want 404", resp.StatusCode)
	}
	if svc.ElementCount() != 0 {
		t.Fatal("store mutated by failed update")
	}
}

func TestUpdate_MergesFields(t *testing.T) {
	svc, srv := testServer(t)
	el := svc.CreateElement(scene.Element{Type: "rectangle", X: 1, Y: 2})

	resp, body := doJSON(t, "PUT", srv.URL+"/api/elements/"+el.ID, map[string]any{"x": 42})
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	got := body["element"].(map[string]any)
	if got["x"].(float64) != 42 {
		t.Fatalf("x: %v", got["x"])
	}
	if got["y"].(float64) != 2 {
		t.Fatalf("y: %v", got["y"])
	}
	if got["version"].(float64) != 2 {
		t.Fatalf("version: %v", got["version"])
	}
}

func TestDelete_NotFound(t *testing.T) {
	_, srv := testServer(t)
	resp, _ := doJSON(t, "DELETE", srv.URL+"/api/elements/el_nope", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("status: %d, want 404", resp.StatusCode)
	}
}

func TestClear(t *testing.T) {
	svc, srv := testServer(t)
	svc.CreateBatch([]scene.Element{{Type: "rectangle"}, {Type: "text"}})

	resp, body := doJSON(t, "DELETE", srv.URL+"/api/elements", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if body["deleted"].(float64) != 2 {
		t.Fatalf("deleted: %v", body["deleted"])
	}
	if svc.ElementCount() != 0 {
		t.Fatal("scene not empty after clear")
	}
}

// --- live channel ---

func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsReadEvent(t *testing.T, conn *websocket.Conn) scene.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var ev scene.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("ws event decode: %v", err)
	}
	return ev
}

func TestWS_SnapshotFirst(t *testing.T) {
	svc, srv := testServer(t)
	svc.CreateElement(scene.Element{Type: "rectangle"})

	conn := wsDial(t, srv)
	ev := wsReadEvent(t, conn)
	if ev.Type != scene.EventSnapshot {
		t.Fatalf("first event: %s, want scene_snapshot", ev.Type)
	}
	if len(ev.Elements) != 1 {
		t.Fatalf("snapshot elements: %d", len(ev.Elements))
	}
}

func TestWS_MutationEvents(t *testing.T) {
	svc, srv := testServer(t)
	conn := wsDial(t, srv)

	if ev := wsReadEvent(t, conn); ev.Type != scene.EventSnapshot {
		t.Fatalf("first event: %s", ev.Type)
	}

	el := svc.CreateElement(scene.Element{Type: "rectangle"})
	ev := wsReadEvent(t, conn)
	if ev.Type != scene.EventCreated || ev.Element == nil || ev.Element.ID != el.ID {
		t.Fatalf("created event: %+v", ev)
	}

	svc.UpdateElement(el.ID, map[string]any{"x": 7.0})
	ev = wsReadEvent(t, conn)
	if ev.Type != scene.EventUpdated || ev.Element.Version != 2 {
		t.Fatalf("updated event: %+v", ev)
	}

	svc.DeleteElement(el.ID)
	ev = wsReadEvent(t, conn)
	if ev.Type != scene.EventDeleted || ev.ID != el.ID {
		t.Fatalf("deleted event: %+v", ev)
	}

	svc.ClearScene()
	if ev = wsReadEvent(t, conn); ev.Type != scene.EventClear {
		t.Fatalf("clear event: %+v", ev)
	}
}

func TestWS_BatchIsAtomic(t *testing.T) {
	svc, srv := testServer(t)
	conn := wsDial(t, srv)
	wsReadEvent(t, conn) // snapshot

	svc.CreateBatch([]scene.Element{
		{Type: "rectangle"}, {Type: "ellipse"}, {Type: "arrow"},
	})

	// The connected viewer gets the whole batch in one event.
	ev := wsReadEvent(t, conn)
	if ev.Type != scene.EventBatchCreated {
		t.Fatalf("event: %s, want elements_batch_created", ev.Type)
	}
	if len(ev.Elements) != 3 {
		t.Fatalf("batch: %d elements, want 3", len(ev.Elements))
	}
}

func TestWS_RefreshSignal(t *testing.T) {
	svc, srv := testServer(t)
	conn := wsDial(t, srv)
	wsReadEvent(t, conn) // snapshot

	before := svc.ElementCount()
	resp, _ := doJSON(t, "POST", srv.URL+"/api/refresh", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("refresh status: %d", resp.StatusCode)
	}
	ev := wsReadEvent(t, conn)
	if ev.Type != scene.EventRefresh {
		t.Fatalf("event: %s, want refresh", ev.Type)
	}
	if svc.ElementCount() != before {
		t.Fatal("refresh mutated the scene")
	}
}

func TestWS_PerViewerOrdering(t *testing.T) {
	svc, srv := testServer(t)
	a := wsDial(t, srv)
	b := wsDial(t, srv)
	wsReadEvent(t, a)
	wsReadEvent(t, b)

	var ids []string
	for i := 0; i < 10; i++ {
		el := svc.CreateElement(scene.Element{Type: "rectangle", X: float64(i)})
		ids = append(ids, el.ID)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		for i := 0; i < 10; i++ {
			ev := wsReadEvent(t, conn)
			if ev.Type != scene.EventCreated {
				t.Fatalf("event %d: %s", i, ev.Type)
			}
			if ev.Element.ID != ids[i] {
				t.Fatalf("event %d out of order: got %s, want %s", i, ev.Element.ID, ids[i])
			}
		}
	}
}

func TestViewerCount(t *testing.T) {
	svc, srv := testServer(t)
	if svc.ViewerCount() != 0 {
		t.Fatal("viewer count not 0")
	}
	conn := wsDial(t, srv)
	wsReadEvent(t, conn)
	if svc.ViewerCount() != 1 {
		t.Fatalf("viewer count: %d, want 1", svc.ViewerCount())
	}
	conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for svc.ViewerCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_DropsSlowViewerOnly(t *testing.T) {
	hub := NewHub(nil)
	fast := &viewer{id: "vw_fast", send: make(chan []byte, sendBuffer)}
	slow := &viewer{id: "vw_slow", send: make(chan []byte)} // zero buffer, never drained
	hub.add(fast)
	hub.add(slow)

	hub.Broadcast(scene.Event{Type: scene.EventClear})

	if hub.Count() != 1 {
		t.Fatalf("viewers: %d, want 1 (slow dropped)", hub.Count())
	}
	select {
	case <-fast.send:
	default:
		t.Fatal("fast viewer did not receive the event")
	}
	// The dropped viewer's queue is closed so its write loop exits.
	if _, ok := <-slow.send; ok {
		t.Fatal("slow viewer queue not closed")
	}
}

func ExampleService_CreateElement() {
	svc := New()
	el := svc.CreateElement(scene.Element{Type: "rectangle", X: 10, Y: 20, Width: 120, Height: 60})
	fmt.Println(el.Type, el.Version)
	// Output: rectangle 1
}
