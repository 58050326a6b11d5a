package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/traceql/internal/broadcast"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a connection may stay silent before it is
	// considered dead. Pings go out well inside it.
	wsPongWait = 60 * time.Second

	// wsPingInterval is how often ping frames are sent.
	wsPingInterval = 30 * time.Second

	// wsMaxClientFrame caps inbound frames; clients are not expected to send
	// anything but control frames.
	wsMaxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream handles GET /stream. The observer is registered before the
// handshake completes, so a client that has connected sees every event
// ingested afterwards.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	obs := s.hub.Register(r.RemoteAddr)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Deregister(obs)
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go readPump(conn, done)
	s.writePump(conn, obs, done)
}

// writePump forwards envelopes to conn and keeps it alive with pings. It
// returns when the observer is deregistered, the peer goes away or a write
// fails.
func (s *Server) writePump(conn *websocket.Conn, obs *broadcast.Observer, done <-chan struct{}) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-obs.Messages():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.hub.Fail(obs, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.hub.Fail(obs, err)
				return
			}
		case <-done:
			s.hub.Deregister(obs)
			return
		}
	}
}

// readPump discards client frames so control frames are processed, and
// closes done once the connection stops being readable.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(wsMaxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
