// Package client provides a transport-agnostic interface for the traceql
// server and an HTTP/JSON implementation with a WebSocket live stream.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/presence"
	"github.com/alfredjeanlab/traceql/internal/trace"
)

// TraceQLClient is the interface the CLI and the producer use to talk to
// the server. It is implemented by HTTPClient.
type TraceQLClient interface {
	// Ingestion
	Ingest(ctx context.Context, req *IngestRequest) (string, error)

	// Queries
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.Event, error)
	GetTrace(ctx context.Context, traceID string) (*trace.Result, error)
	Services(ctx context.Context, activeWithin time.Duration) ([]presence.Entry, error)

	// Live stream
	Subscribe(ctx context.Context) (*Subscription, error)

	// Health
	Health(ctx context.Context) (bool, error)

	// Lifecycle
	Close() error
}

// IngestRequest is one event submission. Nil optional fields are omitted
// from the request body.
type IngestRequest struct {
	Service      string            `json:"service"`
	Level        model.Level       `json:"level"`
	Message      string            `json:"message"`
	TraceID      *string           `json:"traceId,omitempty"`
	SpanID       *string           `json:"spanId,omitempty"`
	ParentSpanID *string           `json:"parentSpanId,omitempty"`
	DurationMs   *int64            `json:"durationMs,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}
