package canvas

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The canvas is a local development tool; any origin may attach a viewer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS upgrades the connection, attaches it to the hub with a scene
// snapshot as its first message, then pumps events until the peer drops.
// The channel is one-directional: inbound frames are drained for pong
// bookkeeping only and never mutate the scene.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws: upgrade", "error", err)
		return
	}

	v := s.attach()
	s.logger.Info("ws: viewer connected", "viewer_id", v.id, "viewers", s.hub.Count())

	go s.writeLoop(conn, v)
	s.readLoop(conn, v)
}

func (s *Service) writeLoop(conn *websocket.Conn, v *viewer) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// A deadline timeout on websocket writes cannot be recovered;
				// drop the viewer and let it reload.
				s.hub.remove(v.id)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.remove(v.id)
				return
			}
		}
	}
}

func (s *Service) readLoop(conn *websocket.Conn, v *viewer) {
	defer func() {
		s.hub.remove(v.id)
		conn.Close()
		s.logger.Info("ws: viewer disconnected", "viewer_id", v.id, "viewers", s.hub.Count())
	}()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
