package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s store.Store, events ...*model.Event) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, s.Insert(context.Background(), e), "insert %s", e.ID)
	}
}

func ev(id string, ts int64, service string, level model.Level, msg string) *model.Event {
	return &model.Event{ID: id, TS: ts, Service: service, Level: level, Message: msg, Tags: map[string]string{}}
}

func ids(events []*model.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestScan_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s,
		ev("a", 10, "api", model.LevelInfo, "first"),
		ev("c", 30, "api", model.LevelInfo, "third"),
		ev("b", 20, "api", model.LevelInfo, "second"),
	)

	got, err := s.Scan(context.Background(), model.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(got))
}

func TestScan_ServiceIsExactMatch(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s,
		ev("1", 1, "db", model.LevelInfo, "m"),
		ev("2", 2, "dbx", model.LevelInfo, "m"),
		ev("3", 3, "my-db", model.LevelInfo, "m"),
	)

	got, err := s.Scan(context.Background(), model.EventFilter{Service: "db"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))
}

func TestScan_FiltersCombineWithAnd(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s,
		ev("1", 1, "api", model.LevelError, "checkout failed"),
		ev("2", 2, "api", model.LevelInfo, "checkout ok"),
		ev("3", 3, "worker", model.LevelError, "checkout failed"),
		ev("4", 4, "api", model.LevelError, "login failed"),
	)

	got, err := s.Scan(context.Background(), model.EventFilter{
		Service: "api", Level: model.LevelError, Search: "checkout",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))
}

func TestScan_Substring(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s,
		ev("1", 1, "api", model.LevelInfo, "HTTP /checkout"),
		ev("2", 2, "worker", model.LevelInfo, "payment provider call"),
		ev("3", 3, "db", model.LevelInfo, "INSERT order *50%* off [promo]"),
	)

	tests := []struct {
		q    string
		want []string
	}{
		{"checkout", []string{"1"}},
		{"Checkout", []string{}},
		{"HT", []string{"1"}},
		{"o", []string{"3", "2", "1"}},
		{"*50%*", []string{"3"}},
		{"[promo]", []string{"3"}},
		{"zzz-nomatch-zzz", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			got, err := s.Scan(context.Background(), model.EventFilter{Search: tt.q})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestScan_SearchIgnoresOtherFields(t *testing.T) {
	s := newTestStore(t)
	e := ev("1", 1, "checkout-svc", model.LevelInfo, "started")
	e.TraceID = model.StringPtr("checkout-trace")
	e.Tags = map[string]string{"route": "/checkout"}
	mustInsert(t, s, e)

	got, err := s.Scan(context.Background(), model.EventFilter{Search: "checkout"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScan_LimitClamp(t *testing.T) {
	s := newTestStore(t)
	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		for i := 0; i < 600; i++ {
			if err := tx.Insert(context.Background(), ev(fmt.Sprintf("ev-%03d", i), int64(i), "api", model.LevelDebug, "tick")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, err := s.Scan(context.Background(), model.EventFilter{Limit: 10000})
	require.NoError(t, err)
	assert.Len(t, got, 500)

	got, err = s.Scan(context.Background(), model.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 100)
	assert.Equal(t, "ev-599", got[0].ID)

	got, err = s.Scan(context.Background(), model.EventFilter{Limit: 7})
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestScan_EmptyIsNotNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Scan(context.Background(), model.EventFilter{Service: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestScanByTrace_AscendingAndRoundTrip(t *testing.T) {
	s := newTestStore(t)
	root := ev("r", 20, "api", model.LevelInfo, "HTTP /checkout")
	root.TraceID = model.StringPtr("t1")
	root.SpanID = model.StringPtr("s1")
	root.DurationMs = model.Int64Ptr(120)
	root.Tags = map[string]string{"route": "/checkout", "emoji": "✓"}

	child := ev("c", 30, "worker", model.LevelWarn, "payment provider call")
	child.TraceID = model.StringPtr("t1")
	child.SpanID = model.StringPtr("s2")
	child.ParentSpanID = model.StringPtr("s1")

	early := ev("e", 10, "db", model.LevelDebug, "no span")
	early.TraceID = model.StringPtr("t1")

	other := ev("o", 15, "api", model.LevelInfo, "other trace")
	other.TraceID = model.StringPtr("t2")

	mustInsert(t, s, root, child, early, other)

	got, err := s.ScanByTrace(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"e", "r", "c"}, ids(got))

	assert.Equal(t, root.Tags, got[1].Tags)
	assert.Equal(t, int64(120), *got[1].DurationMs)
	assert.Nil(t, got[1].ParentSpanID)
	assert.Equal(t, "s1", got[2].ParentSpan())
	assert.Nil(t, got[0].SpanID)

	none, err := s.ScanByTrace(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestInsert_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, ev("dup", 1, "api", model.LevelInfo, "m"))

	err := s.Insert(context.Background(), ev("dup", 2, "api", model.LevelInfo, "m"))
	var se *model.StorageError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "insert", se.Op)
}

func TestInsert_IndexFailureLeavesNoRow(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.Exec("DROP TABLE event_search")
	require.NoError(t, err)

	err = s.Insert(context.Background(), ev("x", 1, "api", model.LevelInfo, "m"))
	var se *model.StorageError
	require.True(t, errors.As(err, &se), "got %v", err)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n))
	assert.Zero(t, n, "row must be rolled back with the failed index write")
}

func TestScanRange_Cursor(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s,
		ev("a", 1, "api", model.LevelInfo, "m"),
		ev("b", 2, "api", model.LevelInfo, "m"),
		ev("c", 2, "api", model.LevelInfo, "m"),
		ev("d", 3, "api", model.LevelInfo, "m"),
		ev("e", 9, "api", model.LevelInfo, "m"),
	)
	ctx := context.Background()

	page, err := s.ScanRange(ctx, store.Cursor{}, 3, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(page))

	next := store.Cursor{}.Advance(page[len(page)-1])
	page, err = s.ScanRange(ctx, next, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, ids(page))
}

func TestSearchClause(t *testing.T) {
	clause, arg := searchClause("checkout")
	assert.Equal(t, "message GLOB ?", clause)
	assert.Equal(t, "*checkout*", arg)

	clause, arg = searchClause("ab")
	assert.Equal(t, "instr(message, ?) > 0", clause)
	assert.Equal(t, "ab", arg)

	clause, _ = searchClause("what?")
	assert.Equal(t, "instr(message, ?) > 0", clause)
}
