// Package broadcast fans accepted events out to live observers.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// KindEvent is the envelope type carried by every pushed event.
const KindEvent = "event"

// DefaultBuffer is the per-observer queue length used when none is given.
const DefaultBuffer = 64

// Envelope is the message pushed to observers. Its kind is carried on the
// wire as "type", which is what existing stream consumers read.
type Envelope struct {
	Type string       `json:"type"`
	Data *model.Event `json:"data"`
}

// DeliveryError describes an observer that was dropped because a send to it
// failed. It is logged, never returned to ingesters.
type DeliveryError struct {
	Observer uint64
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to observer %d: %v", e.Observer, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ErrQueueFull is the delivery failure recorded for an observer whose queue
// had no room for the next envelope.
var ErrQueueFull = errors.New("observer queue full")

// Observer is one registered consumer. Transports drain Messages until it is
// closed, which happens when the observer is deregistered.
type Observer struct {
	ID     uint64
	Remote string

	ch     chan []byte
	closed bool // guarded by Hub.mu
}

// Messages returns the channel of encoded envelopes for this observer.
func (o *Observer) Messages() <-chan []byte {
	return o.ch
}

// Hub is the registry of live observers. The zero value is not usable; use
// NewHub.
type Hub struct {
	mu        sync.RWMutex
	observers map[*Observer]struct{}
	nextID    atomic.Uint64
	buffer    int
	log       *slog.Logger
}

// NewHub returns an empty hub whose observers queue up to buffer envelopes.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		observers: make(map[*Observer]struct{}),
		buffer:    buffer,
		log:       logger,
	}
}

// Register adds a new observer. It receives only envelopes broadcast after
// Register returns.
func (h *Hub) Register(remote string) *Observer {
	o := &Observer{
		ID:     h.nextID.Add(1),
		Remote: remote,
		ch:     make(chan []byte, h.buffer),
	}
	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("observer registered", "observer", o.ID, "remote", remote)
	return o
}

// Deregister removes o and closes its message channel. It is safe to call
// more than once.
func (h *Hub) Deregister(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	delete(h.observers, o)
	close(o.ch)
}

// Fail deregisters o after a failed send on its transport.
func (h *Hub) Fail(o *Observer, err error) {
	h.Deregister(o)
	h.log.Debug("observer dropped", "error", &DeliveryError{Observer: o.ID, Err: err}, "remote", o.Remote)
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Result summarizes one broadcast.
type Result struct {
	Delivered int
	Dropped   int
}

// Broadcast queues the envelope for e on every registered observer without
// blocking. Observers whose queue is full are deregistered after the walk.
func (h *Hub) Broadcast(e *model.Event) Result {
	payload, err := json.Marshal(Envelope{Type: KindEvent, Data: e})
	if err != nil {
		h.log.Warn("failed to marshal event for broadcast", "id", e.ID, "error", err)
		return Result{}
	}
	return h.send(payload)
}

func (h *Hub) send(payload []byte) Result {
	var (
		res  Result
		full []*Observer
	)

	h.mu.RLock()
	for o := range h.observers {
		select {
		case o.ch <- payload:
			res.Delivered++
		default:
			full = append(full, o)
		}
	}
	h.mu.RUnlock()

	for _, o := range full {
		h.Fail(o, ErrQueueFull)
	}
	res.Dropped = len(full)
	return res
}

// Close deregisters every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for o := range h.observers {
		o.closed = true
		close(o.ch)
		delete(h.observers, o)
	}
}
