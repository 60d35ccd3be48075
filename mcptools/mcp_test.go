package mcptools

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maretko/drawbridge/canvas"
	"github.com/maretko/drawbridge/reconcile"
)

var testMCPImpl = &mcp.Implementation{Name: "drawbridge-test", Version: "0.1.0"}

func mcpSession(t *testing.T) (*canvas.Service, *mcp.ClientSession) {
	t.Helper()
	svc := canvas.New()
	r := chi.NewRouter()
	svc.RegisterHTTP(r)
	httpSrv := httptest.NewServer(r)
	t.Cleanup(httpSrv.Close)

	tools := New(reconcile.NewClient(httpSrv.URL))
	srv := mcp.NewServer(testMCPImpl, nil)
	tools.Register(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return svc, session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

const toolSpec = `
shapes:
  - id: web
    type: rectangle
    pos: [0, 0, "100x50"]
  - id: cache
    type: ellipse
    pos: [300, 0, "80x80"]
connectors:
  - from: web
    to: cache
`

// --- canvas_health ---

func TestMCP_Health(t *testing.T) {
	_, session := mcpSession(t)

	text := mcpCallTool(t, session, "canvas_health", map[string]any{})
	var resp struct {
		Status        string `json:"status"`
		ElementsCount int    `json:"elements_count"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" || resp.ElementsCount != 0 {
		t.Errorf("health = %+v", resp)
	}
}

// --- canvas_push ---

func TestMCP_PushAndElements(t *testing.T) {
	svc, session := mcpSession(t)

	dir := t.TempDir()
	specPath := filepath.Join(dir, "stack.yaml")
	if err := os.WriteFile(specPath, []byte(toolSpec), 0o644); err != nil {
		t.Fatal(err)
	}

	text := mcpCallTool(t, session, "canvas_push", map[string]any{"spec_path": specPath})
	var push struct {
		Created    []string `json:"created"`
		Failures   int      `json:"failures"`
		FullResync bool     `json:"full_resync"`
	}
	if err := json.Unmarshal([]byte(text), &push); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(push.Created) != 3 || push.Failures != 0 || !push.FullResync {
		t.Errorf("push = %+v", push)
	}
	if n := svc.ElementCount(); n != 3 {
		t.Errorf("canvas has %d elements, want 3", n)
	}

	text = mcpCallTool(t, session, "canvas_elements", map[string]any{})
	var list struct {
		Count int `json:"count"`
	}
	json.Unmarshal([]byte(text), &list)
	if list.Count != 3 {
		t.Errorf("elements count = %d, want 3", list.Count)
	}
}

func TestMCP_PushMissingSpecIsToolError(t *testing.T) {
	_, session := mcpSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "canvas_push",
		Arguments: map[string]any{"spec_path": "/does/not/exist.yaml"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("missing spec did not produce a tool error")
	}
}

// --- canvas_clear ---

func TestMCP_Clear(t *testing.T) {
	svc, session := mcpSession(t)

	dir := t.TempDir()
	specPath := filepath.Join(dir, "stack.yaml")
	os.WriteFile(specPath, []byte(toolSpec), 0o644)
	mcpCallTool(t, session, "canvas_push", map[string]any{"spec_path": specPath})

	text := mcpCallTool(t, session, "canvas_clear", map[string]any{})
	var resp struct {
		Deleted int `json:"deleted"`
	}
	json.Unmarshal([]byte(text), &resp)
	if resp.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", resp.Deleted)
	}
	if n := svc.ElementCount(); n != 0 {
		t.Errorf("canvas not empty: %d", n)
	}
}

// --- canvas_refresh ---

func TestMCP_Refresh(t *testing.T) {
	_, session := mcpSession(t)

	text := mcpCallTool(t, session, "canvas_refresh", map[string]any{})
	var resp struct {
		Status string `json:"status"`
	}
	json.Unmarshal([]byte(text), &resp)
	if resp.Status != "refresh_sent" {
		t.Errorf("status = %q", resp.Status)
	}
}
