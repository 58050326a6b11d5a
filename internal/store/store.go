// Package store defines the persistence contract for events.
package store

import (
	"context"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// Store defines the persistence interface for events. Implementations wrap
// every engine failure in a *model.StorageError. Empty results are returned
// as empty, non-nil slices.
type Store interface {
	// Insert persists the event row and its text-index entry atomically.
	Insert(ctx context.Context, event *model.Event) error

	// Scan returns events matching filter, newest first, bounded by the
	// clamped filter limit.
	Scan(ctx context.Context, filter model.EventFilter) ([]*model.Event, error)

	// ScanByTrace returns every event of a trace, oldest first.
	ScanByTrace(ctx context.Context, traceID string) ([]*model.Event, error)

	// ScanRange returns up to limit events ordered by (ts, id) that sort
	// after cursor and have ts <= until.
	ScanRange(ctx context.Context, after Cursor, until int64, limit int) ([]*model.Event, error)

	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}

// Cursor is a position in (ts, id) order. The zero Cursor precedes every event.
type Cursor struct {
	TS int64
	ID string
}

// Advance returns the cursor positioned at e.
func (c Cursor) Advance(e *model.Event) Cursor {
	return Cursor{TS: e.TS, ID: e.ID}
}

// Fail wraps err as a storage failure of op. It returns nil when err is nil.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &model.StorageError{Op: op, Err: err}
}
