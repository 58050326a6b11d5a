package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/traceql/internal/broadcast"
	"github.com/alfredjeanlab/traceql/internal/model"
)

// Subscription is a live feed of events from the server's /stream endpoint.
type Subscription struct {
	events chan *model.Event
	err    error
}

// Events returns the feed. It is closed when the connection ends or the
// subscribing context is canceled.
func (s *Subscription) Events() <-chan *model.Event {
	return s.events
}

// Err reports why the feed ended. It is nil after a normal close or a
// canceled context, and only meaningful once Events is closed.
func (s *Subscription) Err() error {
	return s.err
}

// Subscribe opens a WebSocket to /stream. Only events accepted after the
// connection is established are delivered.
func (c *HTTPClient) Subscribe(ctx context.Context) (*Subscription, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL(c.baseURL), nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	sub := &Subscription{events: make(chan *model.Event, 64)}
	go func() {
		defer close(sub.events)
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					sub.err = err
				}
				return
			}
			var env broadcast.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				sub.err = fmt.Errorf("decode envelope: %w", err)
				return
			}
			if env.Type != broadcast.KindEvent || env.Data == nil {
				continue
			}
			select {
			case sub.events <- env.Data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

// streamURL maps an http(s) base URL onto the ws(s) stream endpoint.
func streamURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/stream"
}

// ErrStreamClosed is returned by Next when the subscription has ended.
var ErrStreamClosed = errors.New("stream closed")

// Next waits for the next event.
func (s *Subscription) Next(ctx context.Context) (*model.Event, error) {
	select {
	case e, ok := <-s.events:
		if !ok {
			if s.err != nil {
				return nil, s.err
			}
			return nil, ErrStreamClosed
		}
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
