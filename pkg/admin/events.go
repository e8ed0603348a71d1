package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin surface binds to loopback; the UI may be served from a
	// different origin (extension page, dev server).
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	eventBuffer   = 64
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
)

// serveEvents upgrades the connection and streams store events (rule
// changes and intercepted requests) as JSON until the client goes away.
func (s *Server) serveEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	events, cancel := s.cfg.Store.Subscribe(eventBuffer)
	defer cancel()
	defer conn.Close()

	// Reads are discarded; a read error is how we learn the peer is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
