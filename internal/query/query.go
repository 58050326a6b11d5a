// Package query turns request parameters into bounded, newest-first event scans.
package query

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

// ParseFilter builds an event filter from URL query parameters.
//
// service and level are exact-match predicates; q is trimmed and dropped when
// blank. limit defaults to model.DefaultLimit when absent or not an integer
// and never exceeds model.MaxLimit.
func ParseFilter(v url.Values) model.EventFilter {
	return model.EventFilter{
		Service: v.Get("service"),
		Level:   model.Level(v.Get("level")),
		Search:  strings.TrimSpace(v.Get("q")),
		Limit:   ParseLimit(v.Get("limit")),
	}
}

// ParseLimit parses a raw limit parameter into the effective limit.
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return model.DefaultLimit
	}
	return model.ClampLimit(n)
}

// Engine runs event queries against a store.
type Engine struct {
	store store.Store
}

// NewEngine returns an Engine reading from s.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Search returns the events matching filter, newest first. A filter that
// matches nothing yields an empty, non-nil slice.
func (e *Engine) Search(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Limit = model.ClampLimit(filter.Limit)

	events, err := e.store.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	if events == nil {
		events = []*model.Event{}
	}
	return events, nil
}
