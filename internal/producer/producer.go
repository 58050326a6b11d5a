// Package producer generates synthetic checkout traces and submits them to a
// traceql server.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/traceql/internal/client"
	"github.com/alfredjeanlab/traceql/internal/model"
)

// DefaultInterval is the pause between two generated traces.
const DefaultInterval = 250 * time.Millisecond

// rootLevels weights the level picked for api and worker spans.
var rootLevels = []model.Level{
	model.LevelInfo, model.LevelInfo, model.LevelInfo, model.LevelWarn, model.LevelError,
}

// Ingester submits one event. *client.HTTPClient satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, req *client.IngestRequest) (string, error)
}

// Stats counts what a Run produced.
type Stats struct {
	Traces  int // traces fully submitted
	Skipped int // traces abandoned after the client gave up
}

// Generator submits one synthetic trace per tick.
type Generator struct {
	client  Ingester
	limiter *rate.Limiter
	rng     *rand.Rand
	logger  *slog.Logger
}

// NewGenerator returns a generator that submits through c at most once
// per interval.
func NewGenerator(c Ingester, interval time.Duration, logger *slog.Logger) *Generator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:  c,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		logger:  logger,
	}
}

// Trace builds the events of one checkout: an api root span, a worker span
// for the payment provider call and a db span for the order insert, both
// children of the root.
func (g *Generator) Trace() []*client.IngestRequest {
	traceID := strings.ReplaceAll(uuid.NewString(), "-", "")
	root := spanID()

	return []*client.IngestRequest{
		{
			Service:    "api",
			Level:      g.pick(rootLevels),
			Message:    "HTTP /checkout",
			TraceID:    model.StringPtr(traceID),
			SpanID:     model.StringPtr(root),
			DurationMs: model.Int64Ptr(g.between(50, 200)),
			Tags: map[string]string{
				"route":  "/checkout",
				"userId": strconv.FormatInt(g.between(1, 101), 10),
			},
		},
		{
			Service:      "worker",
			Level:        g.pick(rootLevels),
			Message:      "payment provider call",
			TraceID:      model.StringPtr(traceID),
			SpanID:       model.StringPtr(spanID()),
			ParentSpanID: model.StringPtr(root),
			DurationMs:   model.Int64Ptr(g.between(80, 480)),
			Tags: map[string]string{
				"provider": "stripe-like",
				"retry":    strconv.FormatInt(g.between(0, 3), 10),
			},
		},
		{
			Service:      "db",
			Level:        model.LevelInfo,
			Message:      "INSERT order",
			TraceID:      model.StringPtr(traceID),
			SpanID:       model.StringPtr(spanID()),
			ParentSpanID: model.StringPtr(root),
			DurationMs:   model.Int64Ptr(g.between(5, 35)),
			Tags:         map[string]string{"table": "orders"},
		},
	}
}

// RunOnce submits one trace in order and returns its trace id. It stops at
// the first event the client could not deliver.
func (g *Generator) RunOnce(ctx context.Context) (string, error) {
	events := g.Trace()
	traceID := *events[0].TraceID
	for _, e := range events {
		if _, err := g.client.Ingest(ctx, e); err != nil {
			return traceID, fmt.Errorf("ingest %s span of trace %s: %w", e.Service, traceID, err)
		}
	}
	return traceID, nil
}

// Run submits traces until ctx is done or count traces have been attempted
// (count <= 0 means no limit). A trace the client gives up on is logged and
// skipped. Cancellation ends Run without an error.
func (g *Generator) Run(ctx context.Context, count int) (Stats, error) {
	var stats Stats
	for count <= 0 || stats.Traces+stats.Skipped < count {
		if err := g.limiter.Wait(ctx); err != nil {
			return stats, nil
		}
		traceID, err := g.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return stats, nil
			}
			g.logger.Warn("trace skipped", "trace", traceID, "error", err)
			stats.Skipped++
			continue
		}
		g.logger.Debug("trace submitted", "trace", traceID)
		stats.Traces++
	}
	return stats, nil
}

func (g *Generator) pick(levels []model.Level) model.Level {
	return levels[g.rng.IntN(len(levels))]
}

// between returns a value in [lo, hi).
func (g *Generator) between(lo, hi int64) int64 {
	return lo + g.rng.Int64N(hi-lo)
}

// spanID returns 16 hex characters taken from a random UUID.
func spanID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}
