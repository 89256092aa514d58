package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth already ran; cross-origin dashboards are expected clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWebSocket serves the same event feed as the SSE endpoint over a
// websocket, one JSON event per message.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	filter := typeFilter(r.URL.Query().Get("types"))
	sessionID := id.String()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.streams.Subscribe(sessionID, 64)
	defer h.streams.Unsubscribe(sessionID, ch)

	// Reader goroutine: drain client frames so pings/pongs and close
	// handshakes work; we never expect payloads.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, open := <-ch:
			if !open {
				return
			}
			if filter != nil && !filter[evt.Type] {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, evt.Marshal()); err != nil {
				h.logger.Debug("WebSocket write failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				return
			}
		}
	}
}
