// Package trace rebuilds span trees from the flat events of one trace.
package trace

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

// Result is a reconstructed trace: the span forest plus every event of the
// trace in ascending ts order, including events that carry no span.
type Result struct {
	TraceID string            `json:"traceId"`
	Roots   []*model.SpanNode `json:"roots"`
	Raw     []*model.Event    `json:"raw"`
}

// Reconstructor loads traces through a store and builds their span forests.
type Reconstructor struct {
	store store.Store
}

// NewReconstructor returns a Reconstructor reading from s.
func NewReconstructor(s store.Store) *Reconstructor {
	return &Reconstructor{store: s}
}

// Reconstruct returns the forest for traceID. A trace with no events yields
// an empty forest and an empty raw list.
func (r *Reconstructor) Reconstruct(ctx context.Context, traceID string) (*Result, error) {
	events, err := r.store.ScanByTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("load trace %s: %w", traceID, err)
	}
	if events == nil {
		events = []*model.Event{}
	}
	return &Result{
		TraceID: traceID,
		Roots:   BuildForest(events),
		Raw:     events,
	}, nil
}

// BuildForest links the span events of one trace into trees. events must be
// in ascending ts order.
//
// The registration pass creates one node per event with a non-empty spanId;
// a later event with the same spanId replaces the earlier node, which is
// dropped. The linking pass then walks the surviving nodes in the same order
// and appends each one to the registered node named by its parentSpanId,
// wherever that parent sits in the trace. A node with no registered parent is
// a root, and so is a node whose link would close a loop.
func BuildForest(events []*model.Event) []*model.SpanNode {
	// Pass 1: registration.
	ordered := make([]*model.SpanNode, 0, len(events))
	lookup := make(map[string]*model.SpanNode, len(events))
	for _, e := range events {
		if !e.HasSpan() {
			continue
		}
		n := model.NewSpanNode(e)
		ordered = append(ordered, n)
		lookup[*e.SpanID] = n
	}

	// Pass 2: linking.
	roots := []*model.SpanNode{}
	parents := make(map[*model.SpanNode]*model.SpanNode, len(lookup))
	for _, n := range ordered {
		if lookup[*n.SpanID] != n {
			continue // superseded by a later duplicate
		}
		parent, ok := lookup[n.ParentSpan()]
		if !ok || n.ParentSpan() == "" || reaches(parents, parent, n) {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
		parents[n] = parent
	}
	return roots
}

// reaches reports whether target is from or one of its linked ancestors.
func reaches(parents map[*model.SpanNode]*model.SpanNode, from, target *model.SpanNode) bool {
	for cur := from; cur != nil; cur = parents[cur] {
		if cur == target {
			return true
		}
	}
	return false
}
