package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// scanEvent scans one row laid out as eventColumns.
func scanEvent(rows *sql.Rows) (*model.Event, error) {
	var e model.Event
	var (
		level        string
		traceID      sql.NullString
		spanID       sql.NullString
		parentSpanID sql.NullString
		durationMs   sql.NullInt64
		tags         string
	)

	if err := rows.Scan(
		&e.ID, &e.TS, &e.Service, &level, &e.Message,
		&traceID, &spanID, &parentSpanID, &durationMs, &tags,
	); err != nil {
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
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

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

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

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
