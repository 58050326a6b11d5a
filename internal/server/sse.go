package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/alfredjeanlab/traceql/internal/broadcast"
)

// sseKeepaliveInterval is how often keepalive comments are sent to
// prevent connection timeouts.
const sseKeepaliveInterval = 30 * time.Second

// handleEventStream handles GET /stream/sse. It carries the same envelopes
// as the WebSocket stream for clients that cannot upgrade.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	obs := s.hub.Register(r.RemoteAddr)
	defer s.hub.Deregister(obs)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-obs.Messages():
			if !ok {
				return
			}
			seq++
			if err := writeSSEEvent(w, seq, msg); err != nil {
				s.hub.Fail(obs, err)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				s.hub.Fail(obs, err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the writer.
func writeSSEEvent(w http.ResponseWriter, id uint64, data []byte) error {
	_, err := fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", id, broadcast.KindEvent, data)
	return err
}
