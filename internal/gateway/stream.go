// ABOUTME: SSE subscriber endpoint draining hub frames to the response
// ABOUTME: Frames arrive fully encoded; this handler only writes and flushes

package gateway

import (
	"net/http"
)

// handleEvents handles GET /api/events. The connection stays open until the
// client goes away, the hub drops the subscriber, or the server shuts down.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := g.hub.Subscribe()
	defer g.hub.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.logger.Debug("sse subscriber connected", "sub_id", sub.ID)

	for {
		select {
		case <-r.Context().Done():
			g.logger.Debug("sse subscriber disconnected", "sub_id", sub.ID)
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				// Pruned by the hub or the hub closed.
				return
			}
			if _, err := w.Write(frame); err != nil {
				g.logger.Debug("sse write failed", "sub_id", sub.ID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
