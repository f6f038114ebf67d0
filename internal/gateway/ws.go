// ABOUTME: WebSocket subscriber endpoint carrying the same frames as SSE
// ABOUTME: Bounded writes with a deadline; a stalled peer is dropped, not waited on

package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsWriteWait bounds each frame write so one stalled peer cannot pin the
// handler goroutine.
const wsWriteWait = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway fronts a local automation client; browsers are not the
	// expected consumer, so cross-origin upgrades are accepted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS handles GET /api/ws. Subscribers receive the exact frame bytes
// the SSE endpoint emits, one frame per text message.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("ws upgrade failed", "error", err)
		return
	}

	sub := g.hub.Subscribe()
	g.logger.Debug("ws subscriber connected", "sub_id", sub.ID)

	// Reader goroutine: the peer sends nothing meaningful, but reading is
	// required to process close and ping control frames.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		g.hub.Unsubscribe(sub.ID)
		_ = conn.Close()
		g.logger.Debug("ws subscriber disconnected", "sub_id", sub.ID)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.logger.Debug("ws write failed", "sub_id", sub.ID, "error", err)
				return
			}
		}
	}
}
