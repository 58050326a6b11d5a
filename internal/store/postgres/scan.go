package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEvent scans a single row into a model.Event.
// The row must contain columns in the order defined by eventColumns.
func scanEvent(row scannable) (*model.Event, error) {
	var e model.Event
	var (
		level        string
		traceID      sql.NullString
		spanID       sql.NullString
		parentSpanID sql.NullString
		durationMs   sql.NullInt64
		tags         []byte
	)

	err := row.Scan(
		&e.ID,
		&e.TS,
		&e.Service,
		&level,
		&e.Message,
		&traceID,
		&spanID,
		&parentSpanID,
		&durationMs,
		&tags,
	)
	if err != nil {
		return nil, err
	}

	e.Level = model.Level(level)
	e.TraceID = stringPtr(traceID)
	e.SpanID = stringPtr(spanID)
	e.ParentSpanID = stringPtr(parentSpanID)
	if durationMs.Valid {
		d := durationMs.Int64
		e.DurationMs = &d
	}

	e.Tags = map[string]string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", e.ID, err)
		}
	}

	return &e, nil
}

// scanEvents scans multiple rows into a non-nil slice of model.Event pointers.
func scanEvents(rows *sql.Rows) ([]*model.Event, error) {
	events := []*model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// nullStringPtr converts an optional string into a sql.NullString.
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullInt64Ptr converts an optional integer into a sql.NullInt64.
func nullInt64Ptr(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func tagsOrEmpty(tags map[string]string) map[string]string {
	if tags == nil {
		return map[string]string{}
	}
	return tags
}
