package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

const eventColumns = `id, ts, service, level, message,
	trace_id, span_id, parent_span_id, duration_ms, tags`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryInsertEvent(ctx context.Context, db executor, e *model.Event) error {
	tags := e.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO events (
			id, ts, service, level, message,
			trace_id, span_id, parent_span_id, duration_ms, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TS, e.Service, string(e.Level), e.Message,
		nullStringPtr(e.TraceID), nullStringPtr(e.SpanID), nullStringPtr(e.ParentSpanID),
		nullInt64Ptr(e.DurationMs), string(tagsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	_, err = db.ExecContext(ctx, `INSERT INTO event_search (id, message) VALUES (?, ?)`, e.ID, e.Message)
	if err != nil {
		return fmt.Errorf("index event: %w", err)
	}
	return nil
}

func queryScanEvents(ctx context.Context, db executor, filter model.EventFilter) ([]*model.Event, error) {
	var (
		whereClauses []string
		args         []any
	)

	if filter.Service != "" {
		whereClauses = append(whereClauses, "service = ?")
		args = append(args, filter.Service)
	}

	if filter.Level != "" {
		whereClauses = append(whereClauses, "level = ?")
		args = append(args, string(filter.Level))
	}

	if filter.Search != "" {
		clause, arg := searchClause(filter.Search)
		whereClauses = append(whereClauses, "id IN (SELECT id FROM event_search WHERE "+clause+")")
		args = append(args, arg)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	q := "SELECT " + eventColumns + " FROM events" + whereSQL + " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, model.ClampLimit(filter.Limit))

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// searchClause returns the event_search predicate for a case-sensitive
// substring match. Terms of three or more characters go through the
// trigram index via GLOB; shorter terms and terms containing GLOB
// metacharacters fall back to instr.
func searchClause(q string) (string, string) {
	if utf8.RuneCountInString(q) >= 3 && !strings.ContainsAny(q, "*?[]") {
		return "message GLOB ?", "*" + q + "*"
	}
	return "instr(message, ?) > 0", q
}

func queryScanTrace(ctx context.Context, db executor, traceID string) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE trace_id = ? ORDER BY ts ASC, id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func queryScanRange(ctx context.Context, db executor, after store.Cursor, until int64, limit int) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE (ts, id) > (?, ?) AND ts <= ?
		ORDER BY ts ASC, id ASC LIMIT ?`,
		after.TS, after.ID, until, limit)
	if err != nil {
		return nil, fmt.Errorf("scan range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}
