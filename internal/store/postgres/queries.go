package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, ts, service, level, message,
	trace_id, span_id, parent_span_id, duration_ms, tags`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryInsertEvent writes the event row followed by its search entry. Callers
// run it inside a transaction so that both rows land or neither does.
func queryInsertEvent(ctx context.Context, db executor, e *model.Event) error {
	tags, err := json.Marshal(tagsOrEmpty(e.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO events (
			id, ts, service, level, message,
			trace_id, span_id, parent_span_id, duration_ms, tags
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)`,
		e.ID,
		e.TS,
		e.Service,
		string(e.Level),
		e.Message,
		nullStringPtr(e.TraceID),
		nullStringPtr(e.SpanID),
		nullStringPtr(e.ParentSpanID),
		nullInt64Ptr(e.DurationMs),
		tags,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	_, err = db.ExecContext(ctx, `INSERT INTO event_search (id, message) VALUES ($1, $2)`, e.ID, e.Message)
	if err != nil {
		return fmt.Errorf("index event: %w", err)
	}
	return nil
}

func queryScanEvents(ctx context.Context, db executor, filter model.EventFilter) ([]*model.Event, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.Service != "" {
		whereClauses = append(whereClauses, "service = "+nextArg())
		args = append(args, filter.Service)
	}

	if filter.Level != "" {
		whereClauses = append(whereClauses, "level = "+nextArg())
		args = append(args, string(filter.Level))
	}

	if filter.Search != "" {
		whereClauses = append(whereClauses,
			fmt.Sprintf(`EXISTS (SELECT 1 FROM event_search s WHERE s.id = events.id AND s.message LIKE %s ESCAPE '\')`, nextArg()))
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	q := "SELECT " + eventColumns + " FROM events" + whereSQL + " ORDER BY ts DESC, id DESC LIMIT " + nextArg()
	args = append(args, model.ClampLimit(filter.Limit))

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func queryScanTrace(ctx context.Context, db executor, traceID string) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE trace_id = $1 ORDER BY ts ASC, id ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func queryScanRange(ctx context.Context, db executor, after store.Cursor, until int64, limit int) ([]*model.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE (ts, id) > ($1, $2) AND ts <= $3
		ORDER BY ts ASC, id ASC LIMIT $4`,
		after.TS, after.ID, until, limit)
	if err != nil {
		return nil, fmt.Errorf("scan range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// escapeLike escapes the LIKE metacharacters in s so it matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
