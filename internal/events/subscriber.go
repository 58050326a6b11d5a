package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// Subscriber receives published events.
type Subscriber interface {
	// Subscribe delivers decoded events on the returned channel. When levels
	// are given, only events at one of them are delivered.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(subject string, levels ...model.Level) (<-chan *model.Event, func(), error)
	Close() error
}

// NATSSubscriber subscribes to events from NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe returns a channel of events published on subject (wildcards such
// as SubjectAll are allowed). Level filtering reads the HeaderLevel message
// header so unwanted events are never decoded. Messages that do not decode
// are skipped.
func (s *NATSSubscriber) Subscribe(subject string, levels ...model.Level) (<-chan *model.Event, func(), error) {
	ch := make(chan *model.Event, 64)
	wanted := make(map[string]bool, len(levels))
	for _, l := range levels {
		wanted[string(l)] = true
	}

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		if len(wanted) > 0 && !wanted[msg.Header.Get(HeaderLevel)] {
			return
		}
		var e model.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			slog.Warn("skipping undecodable event", "subject", msg.Subject, "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- &e:
		default:
			// Drop if the consumer is slow to avoid blocking the NATS client.
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// Flush so the subscription is registered before returning.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}

	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
