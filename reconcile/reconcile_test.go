package reconcile

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/maretko/drawbridge/canvas"
	"github.com/maretko/drawbridge/scene"
)

const testSpec = `
shapes:
  - id: api
    type: rectangle
    pos: [100, 100, "120x60"]
    label: "API"
  - id: db
    type: ellipse
    pos: [400, 100, "100x80"]
    label: "DB"
texts:
  - id: title
    text: "Service layout"
    pos: [100, 20]
connectors:
  - from: api
    to: db
`

func newCanvas(t *testing.T) (*canvas.Service, *Client) {
	t.Helper()
	svc := canvas.New()
	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return svc, NewClient(srv.URL)
}

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func rewriteSpec(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func byID(t *testing.T, els []scene.Element) map[string]scene.Element {
	t.Helper()
	m := make(map[string]scene.Element, len(els))
	for _, el := range els {
		m[el.ID] = el
	}
	return m
}

func TestFirstPushCreatesEverything(t *testing.T) {
	svc, client := newCanvas(t)
	spec := writeSpec(t, testSpec)
	rec := NewReconciler(client)

	report, err := rec.Push(context.Background(), spec, false)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !report.FullResync || report.Reason != "first push" {
		t.Fatalf("want first-push full resync, got %+v", report)
	}
	if got := len(report.Created); got != 4 {
		t.Fatalf("created %d entries, want 4", got)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", report.Failures)
	}
	if n := svc.ElementCount(); n != 4 {
		t.Fatalf("canvas has %d elements, want 4", n)
	}

	state := LoadState(spec)
	if len(state.Mappings) != 4 {
		t.Fatalf("mapping has %d entries, want 4", len(state.Mappings))
	}
	for _, key := range []string{"api", "db", "title", "api-to-db"} {
		if _, ok := state.Mappings[key]; !ok {
			t.Errorf("mapping missing key %q", key)
		}
	}

	// The connector must be bound to the server IDs of its endpoints.
	els := byID(t, svc.Snapshot())
	conn := els[state.Mappings["api-to-db"].ElementID]
	if conn.StartID != state.Mappings["api"].ElementID {
		t.Errorf("connector startId = %q, want api's server ID", conn.StartID)
	}
	if conn.EndID != state.Mappings["db"].ElementID {
		t.Errorf("connector endId = %q, want db's server ID", conn.EndID)
	}
}

func TestRepeatPushIsIdempotent(t *testing.T) {
	svc, client := newCanvas(t)
	spec := writeSpec(t, testSpec)
	rec := NewReconciler(client)
	ctx := context.Background()

	if _, err := rec.Push(ctx, spec, false); err != nil {
		t.Fatalf("first push: %v", err)
	}
	before := byID(t, svc.Snapshot())

	report, err := rec.Push(ctx, spec, false)
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if report.FullResync {
		t.Fatalf("second push went full resync: %s", report.Reason)
	}
	if len(report.Created)+len(report.Updated)+len(report.Deleted) != 0 {
		t.Fatalf("second push mutated: %s", report.Summary())
	}
	if got := len(report.Unchanged); got != 4 {
		t.Fatalf("unchanged %d, want 4", got)
	}

	// No element was touched: IDs and versions are identical.
	after := byID(t, svc.Snapshot())
	if len(after) != len(before) {
		t.Fatalf("element count changed: %d -> %d", len(before), len(after))
	}
	for id, el := range before {
		if after[id].Version != el.Version {
			t.Errorf("element %s version changed %d -> %d", id, el.Version, after[id].Version)
		}
	}
}

func TestIncrementalUpdateKeepsServerID(t *testing.T) {
	svc, client := newCanvas(t)
	spec := writeSpec(t, testSpec)
	rec := NewReconciler(client)
	ctx := context.Background()

	if _, err := rec.Push(ctx, spec, false); err != nil {
		t.Fatalf("first push: %v", err)
	}
	apiID := LoadState(spec).Mappings["api"].ElementID

	// Move the api shape and rename its label.
	moved := `
shapes:
  - id: api
    type: rectangle
    pos: [150, 120, "120x60"]
    label: "API v2"
  - id: db
    type: ellipse
    pos: [400, 100, "100x80"]
    label: "DB"
texts:
  - id: title
    text: "Service layout"
    pos: [100, 20]
connectors:
  - from: api
    to: db
`
	rewriteSpec(t, spec, moved)

	report, err := rec.Push(ctx, spec, false)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	// The connector geometry depends on api's position, so it changes too.
	if len(report.Updated) != 2 {
		t.Fatalf("updated = %v, want [api api-to-db]", report.Updated)
	}
	if len(report.Created)+len(report.Deleted) != 0 {
		t.Fatalf("unexpected creates/deletes: %s", report.Summary())
	}

	state := LoadState(spec)
	if state.Mappings["api"].ElementID != apiID {
		t.Fatalf("api server ID churned on update")
	}
	updated := byID(t, svc.Snapshot())[apiID]
	if updated.X != 150 || updated.Label == nil || updated.Label.Text != "API v2" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}
}

func TestRemovedEntriesAreDeleted(t *testing.T) {
	svc, client := newCanvas(t)
	spec := writeSpec(t, testSpec)
	rec := NewReconciler(client)
	ctx := context.Background()

	if _, err := rec.Push(ctx, spec, false); err != nil {
		t.Fatalf("first push: %v", err)
	}

	// Drop db and the connector that referenced it.
	trimmed := `
shapes:
  - id: api
    type: rectangle
    pos: [100, 100, "120x60"]
    label: "API"
texts:
  - id: title
    text: "Service layout"
    pos: [100, 20]
`
	rewriteSpec(t, spec, trimmed)

	report, err := rec.Push(ctx, spec, false)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(report.Deleted) != 2 {
		t.Fatalf("deleted = %v, want [api-to-db db]", report.Deleted)
	}
	if n := svc.ElementCount(); n != 2 {
		t.Fatalf("canvas has %d elements, want 2", n)
	}
	state := LoadState(spec)
	if _, ok := state.Mappings["db"]; ok {
		t.Fatal("deleted entry still in mapping")
	}
	if len(state.Mappings) != 2 {
		t.Fatalf("mapping has %d entries, want 2", len(state.Mappings))
	}
}

func TestNewConnectorBindsExistingShapes(t *testing.T) {
	svc, client := newCanvas(t)
	noConnector := `
shapes:
  - id: api
    type: rectangle
    pos: [100, 100, "120x60"]
  - id: db
    type: ellipse
    pos: [400, 100, "100x80"]
`
	spec := writeSpec(t, noConnector)
	rec := NewReconciler(client)
	ctx := context.Background()

	if _, err := rec.Push(ctx, spec, false); err != nil {
		t.Fatalf("first push: %v", err)
	}

	withConnector := noConnector + `
connectors:
  - from: api
    to: db
`
	rewriteSpec(t, spec, withConnector)
	report, err := rec.Push(ctx, spec, false)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(report.Created) != 1 || report.Created[0] != "api-to-db" {
		t.Fatalf("created = %v, want [api-to-db]", report.Created)
	}

	state := LoadState(spec)
	conn := byID(t, svc.Snapshot())[state.Mappings["api-to-db"].ElementID]
	if conn.StartID != state.Mappings["api"].ElementID || conn.EndID != state.Mappings["db"].ElementID {
		t.Fatalf("connector bindings not resolved from existing mapping: %+v", conn)
	}
}

func TestStaleMappingFallsBackToFullResync(t *testing.T) {
	svc, client := newCanvas(t)
	spec := writeSpec(t, testSpec)
	rec := NewReconciler(client)
	ctx := context.Background()

	if _, err := rec.Push(ctx, spec, false); err != nil {
		t.Fatalf("first push: %v", err)
	}

	// Wipe the canvas out-of-band, e.g. a server restart.
	if _, err := client.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	report, err := rec.Push(ctx, spec, false)
	if err != nil {
		t.Fatalf("push after clear: %v", err)
	}
	if !report.FullResync || report.Reason != "stale mapping" {
		t.Fatalf("want stale-mapping full resync, got %+v", report)
	}
	if len(report.Failures) != 0 {
		t.Fatalf("stale recovery surfaced failures: %v", report.Failures)
	}
	if n := svc.ElementCount(); n != 4 {
		t.Fatalf("canvas has %d elements after resync, want 4", n)
	}
	if len(LoadState(spec).Mappings) != 4 {
		t.Fatal("mapping not rebuilt after resync")
	}
}

func TestFullPushClearsCanvasFirst(t *testing.T) {
	svc, client := newCanvas(t)
	spec := writeSpec(t, testSpec)
	rec := NewReconciler(client)
	ctx := context.Background()

	// Something else put an element on the canvas.
	if _, err := client.CreateBatch(ctx, []scene.Element{{Type: "rectangle", X: 1, Y: 1}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := rec.Push(ctx, spec, true)
	if err != nil {
		t.Fatalf("full push: %v", err)
	}
	if !report.FullResync || report.Reason != "requested" {
		t.Fatalf("want requested full resync, got %+v", report)
	}
	if n := svc.ElementCount(); n != 4 {
		t.Fatalf("canvas has %d elements, want exactly the spec's 4", n)
	}
}

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "net.yaml")

	if got := StatePath(spec); got != filepath.Join(dir, "net.state.json") {
		t.Fatalf("StatePath = %q", got)
	}

	// Missing and corrupt records both degrade to an empty state.
	if s := LoadState(spec); len(s.Mappings) != 0 {
		t.Fatal("missing state not empty")
	}
	if err := os.WriteFile(StatePath(spec), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if s := LoadState(spec); len(s.Mappings) != 0 {
		t.Fatal("corrupt state not empty")
	}

	s := newState()
	s.Mappings["api"] = Mapping{ElementID: "el_1", Hash: "abcd"}
	if err := s.Save(spec); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded := LoadState(spec)
	if loaded.Mappings["api"] != (Mapping{ElementID: "el_1", Hash: "abcd"}) {
		t.Fatalf("round trip lost data: %+v", loaded)
	}
	if loaded.PushedAt == "" {
		t.Fatal("pushed_at not recorded")
	}
}

func TestClientErrorMapping(t *testing.T) {
	_, client := newCanvas(t)
	ctx := context.Background()

	if _, err := client.Update(ctx, "el_missing", map[string]any{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v, want ErrNotFound", err)
	}
	if err := client.Delete(ctx, "el_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing: %v, want ErrNotFound", err)
	}
	if _, err := client.CreateBatch(ctx, []scene.Element{{X: 5}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("typeless create: %v, want ErrValidation", err)
	}

	dead := NewClient("http://127.0.0.1:1")
	_, err := dead.Health(ctx)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("unreachable host: %v, want TransportError", err)
	}
}
