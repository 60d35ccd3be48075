package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/maretko/drawbridge/scene"
)

// DefaultBaseURL is where canvasd listens unless told otherwise.
const DefaultBaseURL = "http://localhost:3000"

// Client talks to the canvas service REST API.
type Client struct {
	base string
	http *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout. Default 10s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		base: baseURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health reports the canvas service health payload.
type Health struct {
	Status           string `json:"status"`
	ElementsCount    int    `json:"elements_count"`
	WebsocketClients int    `json:"websocket_clients"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// Elements fetches the full scene snapshot in insertion order.
func (c *Client) Elements(ctx context.Context) ([]scene.Element, error) {
	var resp struct {
		Elements []scene.Element `json:"elements"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/elements", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Elements, nil
}

// CreateBatch creates all elements in one atomic call and returns them
// with their server-assigned IDs and version stamps.
func (c *Client) CreateBatch(ctx context.Context, els []scene.Element) ([]scene.Element, error) {
	req := struct {
		Elements []scene.Element `json:"elements"`
	}{Elements: els}
	var resp struct {
		Elements []scene.Element `json:"elements"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/elements/batch", req, &resp); err != nil {
		return nil, err
	}
	return resp.Elements, nil
}

// Update merges fields into the element with the given server ID.
func (c *Client) Update(ctx context.Context, id string, fields map[string]any) (*scene.Element, error) {
	var resp struct {
		Element scene.Element `json:"element"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/elements/"+url.PathEscape(id), fields, &resp); err != nil {
		return nil, err
	}
	return &resp.Element, nil
}

// Delete removes the element with the given server ID.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/elements/"+url.PathEscape(id), nil, nil)
}

// Clear wipes the whole scene and returns how many elements were removed.
func (c *Client) Clear(ctx context.Context) (int, error) {
	var resp struct {
		Status  string `json:"status"`
		Deleted int    `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/elements", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// Refresh asks every connected viewer to reload its snapshot.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/refresh", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	u := c.base + path
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("reconcile: encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("reconcile: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: u, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %w: %s", method, path, ErrValidation, bytes.TrimSpace(msg))
	case resp.StatusCode >= 300:
		return fmt.Errorf("reconcile: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("reconcile: decode %s response: %w", path, err)
	}
	return nil
}
