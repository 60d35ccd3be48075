// Package mcptools exposes the canvas and reconciliation operations as MCP
// tools, so an agent can push diagram specs and inspect the live scene.
package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maretko/drawbridge/kit"
	"github.com/maretko/drawbridge/reconcile"
)

// Service backs the MCP tool set with one canvas client.
type Service struct {
	client *reconcile.Client
	rec    *reconcile.Reconciler
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(client *reconcile.Client, opts ...Option) *Service {
	s := &Service{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rec = reconcile.NewReconciler(client, reconcile.WithLogger(s.logger))
	return s
}

// Register registers all canvas tools on an MCP server.
func (s *Service) Register(srv *mcp.Server) {
	s.registerPushTool(srv)
	s.registerElementsTool(srv)
	s.registerHealthTool(srv)
	s.registerClearTool(srv)
	s.registerRefreshTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// logged reports every tool invocation with its duration.
func (s *Service) logged(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			s.logger.Info("tool call",
				"tool", name,
				"transport", kit.GetTransport(ctx),
				"duration", time.Since(start),
				"error", err,
			)
			return resp, err
		}
	}
}

// --- canvas_push ---

type pushReq struct {
	SpecPath string `json:"spec_path"`
	Full     bool   `json:"full"`
}

func (s *Service) registerPushTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_push",
		Description: "Reconcile a YAML diagram spec against the live canvas: create, update and delete elements so the canvas matches the spec.",
		InputSchema: inputSchema(map[string]any{
			"spec_path": map[string]any{"type": "string", "description": "Path to the YAML diagram spec"},
			"full":      map[string]any{"type": "boolean", "description": "Clear the canvas and recreate everything"},
		}, []string{"spec_path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pushReq)
		report, err := s.rec.Push(ctx, r.SpecPath, r.Full)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"summary":     report.Summary(),
			"created":     report.Created,
			"updated":     report.Updated,
			"deleted":     report.Deleted,
			"unchanged":   report.Unchanged,
			"failures":    len(report.Failures),
			"full_resync": report.FullResync,
		}, nil
	}

	decode := func(call *mcp.CallToolRequest) (any, error) {
		var r pushReq
		if err := json.Unmarshal(call.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.logged(tool.Name))(endpoint), decode)
}

// --- canvas_elements ---

func (s *Service) registerElementsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_elements",
		Description: "List every element currently on the canvas, in insertion order.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		els, err := s.client.Elements(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(els), "elements": els}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.logged(tool.Name))(endpoint), nil)
}

// --- canvas_health ---

func (s *Service) registerHealthTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_health",
		Description: "Check canvas service health: element count and connected viewers.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.client.Health(ctx)
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.logged(tool.Name))(endpoint), nil)
}

// --- canvas_clear ---

func (s *Service) registerClearTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_clear",
		Description: "Remove every element from the canvas.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := s.client.Clear(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": n}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.logged(tool.Name))(endpoint), nil)
}

// --- canvas_refresh ---

func (s *Service) registerRefreshTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "canvas_refresh",
		Description: "Ask every connected viewer to reload its scene from a fresh snapshot.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := s.client.Refresh(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"status": "refresh_sent"}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.logged(tool.Name))(endpoint), nil)
}
