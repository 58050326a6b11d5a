// Package server exposes ingestion, querying, trace reconstruction and live
// streaming over HTTP, WebSocket, SSE and gRPC.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alfredjeanlab/traceql/internal/broadcast"
	"github.com/alfredjeanlab/traceql/internal/events"
	"github.com/alfredjeanlab/traceql/internal/idgen"
	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/presence"
	"github.com/alfredjeanlab/traceql/internal/query"
	"github.com/alfredjeanlab/traceql/internal/store"
	"github.com/alfredjeanlab/traceql/internal/trace"
)

// Server wires the store, the observer hub and the read paths together.
// Transports (HTTP, WebSocket, SSE, gRPC) are thin adapters over it.
type Server struct {
	store     store.Store
	publisher events.Publisher
	hub       *broadcast.Hub
	query     *query.Engine
	traces    *trace.Reconstructor
	metrics   *Metrics
	presence  *presence.Tracker

	newID idgen.Func
	now   func() time.Time
	log   *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithHub uses h as the observer registry instead of a fresh one.
func WithHub(h *broadcast.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithPresence uses t as the service roster instead of a fresh one.
func WithPresence(t *presence.Tracker) Option {
	return func(s *Server) { s.presence = t }
}

// WithIDs replaces the event id generator.
func WithIDs(f idgen.Func) Option {
	return func(s *Server) { s.newID = f }
}

// WithClock replaces the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRegistry registers the server's metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.metrics = NewMetrics(reg) }
}

// New returns a Server backed by st that publishes accepted events to p.
// A nil publisher disables publication.
func New(st store.Store, p events.Publisher, opts ...Option) *Server {
	if p == nil {
		p = &events.NoopPublisher{}
	}
	s := &Server{
		store:     st,
		publisher: p,
		query:     query.NewEngine(st),
		traces:    trace.NewReconstructor(st),
		newID:     idgen.EventID,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = broadcast.NewHub(broadcast.DefaultBuffer, s.log)
	}
	if s.presence == nil {
		s.presence = presence.New(presence.WithLogger(s.log))
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	s.metrics.observeHub(s.hub)
	return s
}

// Hub returns the observer registry.
func (s *Server) Hub() *broadcast.Hub {
	return s.hub
}

// Metrics returns the server's metric set.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Presence returns the service roster.
func (s *Server) Presence() *presence.Tracker {
	return s.presence
}

// Ingest validates a raw submission, stamps it with an id and timestamp,
// persists it and pushes it to live observers and the event bus.
//
// It returns a *model.ValidationError for bad input and a
// *model.StorageError when the store fails; in both cases nothing is
// broadcast. Delivery problems after persistence are logged only.
func (s *Server) Ingest(ctx context.Context, body []byte) (*model.Event, error) {
	sub, err := model.ParseSubmission(body)
	if err != nil {
		s.metrics.Rejected.Inc()
		return nil, err
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	e := model.NewEvent(id, s.now().UnixMilli(), sub)

	if err := s.store.Insert(ctx, e); err != nil {
		s.metrics.StorageErrors.WithLabelValues("insert").Inc()
		return nil, err
	}
	s.metrics.Ingested.WithLabelValues(string(e.Level)).Inc()
	s.presence.Record(e)

	res := s.hub.Broadcast(e)
	s.metrics.ObserversDropped.Add(float64(res.Dropped))

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("failed to publish event", "id", e.ID, "error", err)
	}
	return e, nil
}

// Events returns the events matching filter, newest first.
func (s *Server) Events(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	items, err := s.query.Search(ctx, filter)
	if err != nil {
		s.metrics.StorageErrors.WithLabelValues("scan").Inc()
		return nil, err
	}
	return items, nil
}

// Services returns the services that emitted an accepted event within
// activeWithin, most recently active first. Zero means every tracked service.
func (s *Server) Services(activeWithin time.Duration) []presence.Entry {
	return s.presence.Roster(activeWithin)
}

// Trace reconstructs the span forest of traceID.
func (s *Server) Trace(ctx context.Context, traceID string) (*trace.Result, error) {
	res, err := s.traces.Reconstruct(ctx, traceID)
	if err != nil {
		s.metrics.StorageErrors.WithLabelValues("scan_trace").Inc()
		return nil, err
	}
	return res, nil
}
