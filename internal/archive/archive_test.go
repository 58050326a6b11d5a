package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
	"github.com/alfredjeanlab/traceql/internal/store/sqlite"
)

// mockDestination records calls to Write.
type mockDestination struct {
	mu     sync.Mutex
	writes atomic.Int64
	keys   []string
	data   [][]byte
	last   []byte
	err    error
	// failAt makes the nth write (1-based) fail.
	failAt int64
}

func (d *mockDestination) Write(_ context.Context, key string, data []byte) error {
	n := d.writes.Add(1)
	if d.err != nil {
		return d.err
	}
	if d.failAt > 0 && n == d.failAt {
		return errors.New("write rejected")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	d.last = append([]byte(nil), data...)
	d.data = append(d.data, d.last)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T, ts ...int64) store.Store {
	t.Helper()
	st, err := sqlite.New(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	for i, n := range ts {
		require.NoError(t, st.Insert(context.Background(), &model.Event{
			ID:      "ev-" + string(rune('a'+i)),
			TS:      n,
			Service: "api",
			Level:   model.LevelInfo,
			Message: "m",
			Tags:    map[string]string{},
		}))
	}
	return st
}

func newScheduler(t *testing.T, st store.Store, now int64, dests ...Destination) *Scheduler {
	t.Helper()
	sched, err := NewScheduler(st, dests, time.Hour, discardLogger())
	require.NoError(t, err)
	sched.Now = func() time.Time { return time.UnixMilli(now).Add(settleLag) }
	return sched
}

// decode decompresses an archive object and returns its JSONL lines.
func decode(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	require.NoError(t, err)

	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestArchiveOnce(t *testing.T) {
	st := newStore(t, 100, 200, 300, 400)
	dest := &mockDestination{}
	sched := newScheduler(t, st, 300, dest)

	win, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Window{From: 100, To: 300, Count: 3, Last: store.Cursor{TS: 300, ID: "ev-c"}, Objects: 1}, win)
	assert.Equal(t, []string{"events-100-300-ev-c.jsonl.zst"}, dest.keys)
	assert.Equal(t, win.Last, sched.Watermark())

	lines := decode(t, dest.last)
	require.Len(t, lines, 4)
	assert.Equal(t, map[string]any{"type": "archive", "from": float64(100), "to": float64(300), "count": float64(3)}, lines[0])
	assert.Equal(t, "ev-a", lines[1]["id"])
	assert.Equal(t, "ev-c", lines[3]["id"])
	assert.Nil(t, lines[1]["traceId"])
}

func TestArchiveOnce_Incremental(t *testing.T) {
	st := newStore(t, 100, 200, 300)
	dest := &mockDestination{}
	sched := newScheduler(t, st, 200, dest)

	_, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)

	sched.Now = func() time.Time { return time.UnixMilli(1000).Add(settleLag) }
	win, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, win.Count)
	assert.Equal(t, []string{"events-100-200-ev-b.jsonl.zst", "events-300-300-ev-c.jsonl.zst"}, dest.keys)
}

func TestArchiveOnce_EmptyWindowWritesNothing(t *testing.T) {
	st := newStore(t)
	dest := &mockDestination{}
	sched := newScheduler(t, st, 1000, dest)

	win, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, win)
	assert.Zero(t, dest.writes.Load())
}

func TestArchiveOnce_FailedDestinationKeepsWatermark(t *testing.T) {
	st := newStore(t, 100, 200)
	good := &mockDestination{}
	bad := &mockDestination{err: errors.New("bucket gone")}
	sched := newScheduler(t, st, 1000, good, bad)

	_, err := sched.ArchiveOnce(context.Background())
	require.ErrorContains(t, err, "1 of 2 destinations failed")
	assert.Equal(t, store.Cursor{}, sched.Watermark())

	bad.err = nil
	win, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, win.Count, "the retry covers the same window")
}

func TestArchiveOnce_Batched(t *testing.T) {
	ts := make([]int64, 7)
	for i := range ts {
		ts[i] = int64(100 + i)
	}
	st := newStore(t, ts...)
	dest := &mockDestination{}
	sched := newScheduler(t, st, 1000, dest)
	sched.Batch = 3

	win, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, win.Count)
	assert.Equal(t, 3, win.Objects)
	assert.Equal(t, int64(106), win.To)
	assert.Equal(t, store.Cursor{TS: 106, ID: "ev-g"}, sched.Watermark())

	require.Len(t, dest.data, 3)
	var ids []any
	for i, want := range []int{3, 3, 1} {
		lines := decode(t, dest.data[i])
		require.Len(t, lines, want+1, "object %d", i)
		assert.Equal(t, float64(want), lines[0]["count"])
		for _, l := range lines[1:] {
			ids = append(ids, l["id"])
		}
	}
	assert.Equal(t, []any{"ev-a", "ev-b", "ev-c", "ev-d", "ev-e", "ev-f", "ev-g"}, ids)
}

func TestArchiveOnce_SameTimestampPagesGetDistinctKeys(t *testing.T) {
	st := newStore(t, 100, 100, 100, 100)
	dest := &mockDestination{}
	sched := newScheduler(t, st, 1000, dest)
	sched.Batch = 2

	win, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, win.Count)
	assert.Equal(t, []string{"events-100-100-ev-b.jsonl.zst", "events-100-100-ev-d.jsonl.zst"}, dest.keys)
}

func TestArchiveOnce_NonPositiveBatch(t *testing.T) {
	st := newStore(t, 100, 200)
	dest := &mockDestination{}
	sched := newScheduler(t, st, 1000, dest)
	sched.Batch = 0

	win, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, win.Count)
	assert.Equal(t, 2, win.Objects)
}

func TestArchiveOnce_FailureMidRunKeepsEarlierPages(t *testing.T) {
	st := newStore(t, 100, 200, 300)
	dest := &mockDestination{failAt: 2}
	sched := newScheduler(t, st, 1000, dest)
	sched.Batch = 1

	win, err := sched.ArchiveOnce(context.Background())
	require.ErrorContains(t, err, "1 of 1 destinations failed")
	assert.Equal(t, 1, win.Count)
	assert.Equal(t, store.Cursor{TS: 100, ID: "ev-a"}, sched.Watermark())

	win, err = sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, win.Count, "the next run resumes at the failed page")
	assert.Equal(t, []string{"events-100-100-ev-a.jsonl.zst", "events-200-200-ev-b.jsonl.zst", "events-300-300-ev-c.jsonl.zst"}, dest.keys)
}

func TestArchiveOnce_SettleLag(t *testing.T) {
	st := newStore(t, 100, 200)
	dest := &mockDestination{}
	sched, err := NewScheduler(st, []Destination{dest}, time.Hour, discardLogger())
	require.NoError(t, err)
	sched.Now = func() time.Time { return time.UnixMilli(200) }

	win, err := sched.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, win.Count, "events younger than the lag wait for the next run")
}

func TestSchedulerStartStop(t *testing.T) {
	st := newStore(t, 100)
	dest := &mockDestination{}
	sched, err := NewScheduler(st, []Destination{dest}, 50*time.Millisecond, discardLogger())
	require.NoError(t, err)

	sched.Start()
	require.Eventually(t, func() bool { return dest.writes.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	sched.Stop()

	assert.Equal(t, int64(1), dest.writes.Load(), "later ticks find nothing new")
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched, err := NewScheduler(newStore(t), nil, time.Minute, discardLogger())
	require.NoError(t, err)
	// Stop without Start should not panic.
	sched.Stop()
}

func TestDirDestination(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "archive")
	dest := NewDirDestination(dir)

	require.NoError(t, dest.Write(context.Background(), "events-1-2.jsonl.zst", []byte("one")))
	require.NoError(t, dest.Write(context.Background(), "events-1-2.jsonl.zst", []byte("two")))

	data, err := os.ReadFile(filepath.Join(dir, "events-1-2.jsonl.zst"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDirDestination_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewDirDestination(t.TempDir()).Write(ctx, "k", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestS3Destination_PathStyle(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))

	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest, err := NewS3Destination(context.Background(), "events", "traceql/", "us-east-1", srv.URL)
	require.NoError(t, err)
	require.NoError(t, dest.Write(context.Background(), "events-1-2.jsonl.zst", []byte("payload")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/events/traceql/events-1-2.jsonl.zst", path)
}
