package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/envelope"
	"github.com/RoseWrightdev/Video-Conferencing/backend/go/internal/v1/subscription"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsUpgrader upgrades HTTP connections to WebSocket. CheckOrigin is
// replaced per-request in ServeFloorWebSocket with a check against the
// server's configured allowed origins.
var wsUpgrader = websocket.Upgrader{
	WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
}

// originAllowed reports whether r's Origin header is permitted. An empty
// allowed list or a single "*" entry permits any origin.
func originAllowed(allowed []string, r *http.Request) bool {
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ServeFloorWebSocket upgrades the request and streams floor transitions
// for one conversation over a duplex WebSocket connection: the server
// pushes transition messages, and the client may send "ping" (answered
// with "pong") or close the connection (spec.md §4.G).
func (s *Server) ServeFloorWebSocket(c *gin.Context) {
	conversationID := c.Param("conversationId")

	if s.rateLimiter != nil && !s.rateLimiter.CheckWebSocketConnect(c) {
		return
	}

	if !originAllowed(s.allowedOrigins, c.Request) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	handle, ch := s.hub.Subscribe(conversationID)
	defer s.hub.Unsubscribe(handle)

	done := make(chan struct{})
	go readLoop(conn, done)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case tr, ok := <-ch:
			if !ok {
				return
			}
			if err := writeTransition(conn, conversationID, tr); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames, answering application-level "ping" text
// frames with "pong" and closing done on any read error or close frame.
func readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.TextMessage && string(data) == "ping" {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}

func writeTransition(conn *websocket.Conn, conversationID string, tr subscription.Transition) error {
	env := transitionToEnvelope(conversationID, tr)
	data, err := envelope.Marshal(env)
	if err != nil {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
