package viewer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maretko/drawbridge/scene"
)

const (
	// maxMessageSize bounds one event frame; matches the server limit.
	maxMessageSize = 1 << 20

	// readTimeout must outlast the server's ping interval with margin.
	readTimeout = 75 * time.Second
)

// Client attaches a Model to a canvas websocket endpoint and pumps the
// event stream into it. One client serves one connection: when the
// stream ends for any reason the model goes Reloading and the client is
// spent, attach a fresh one to resynchronize.
type Client struct {
	model  *Model
	conn   *websocket.Conn
	logger *slog.Logger

	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

type ClientOption func(*Client)

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Attach dials the websocket endpoint (ws://host/ws) and starts reading.
// The server sends the scene snapshot as the first frame, so the model is
// ready as soon as that frame is processed.
func Attach(ctx context.Context, wsURL string, model *Model, opts ...ClientOption) (*Client, error) {
	c := &Client{
		model:  model,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	go c.readLoop()
	return c, nil
}

// Done closes when the read loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close shuts the connection down deliberately; the model is not marked
// Reloading.
func (c *Client) Close() error {
	c.closed.Store(true)
	var err error
	c.once.Do(func() {
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Info("event stream ended", "error", err)
				c.model.MarkReloading("connection lost")
			}
			c.conn.Close()
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var ev scene.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.logger.Warn("dropping undecodable event frame", "error", err)
			continue
		}
		if ev.Type == scene.EventRefresh {
			// The server is telling viewers their state may be stale.
			// Reload rather than patch: the next attach gets a clean
			// snapshot.
			c.model.MarkReloading("refresh signal")
			c.conn.Close()
			return
		}
		c.model.Apply(ev)
	}
}
