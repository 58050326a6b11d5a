package query

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

func TestParseFilter(t *testing.T) {
	v := url.Values{}
	v.Set("service", "db")
	v.Set("level", "ERROR")
	v.Set("q", "  checkout  ")
	v.Set("limit", "25")

	assert.Equal(t, model.EventFilter{
		Service: "db", Level: model.LevelError, Search: "checkout", Limit: 25,
	}, ParseFilter(v))
}

func TestParseFilter_BlankQueryDropped(t *testing.T) {
	v := url.Values{"q": {"   "}}
	assert.Equal(t, "", ParseFilter(v).Search)
}

func TestParseFilter_Empty(t *testing.T) {
	assert.Equal(t, model.EventFilter{Limit: model.DefaultLimit}, ParseFilter(url.Values{}))
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 100},
		{"abc", 100},
		{"12.5", 100},
		{"0", 100},
		{"-3", 100},
		{"1", 1},
		{" 40 ", 40},
		{"500", 500},
		{"501", 500},
		{"10000", 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLimit(tt.raw), "ParseLimit(%q)", tt.raw)
	}
}

// scanStore records the filter it receives.
type scanStore struct {
	store.Store
	got    model.EventFilter
	result []*model.Event
	err    error
}

func (s *scanStore) Scan(_ context.Context, f model.EventFilter) ([]*model.Event, error) {
	s.got = f
	return s.result, s.err
}

func TestEngine_SearchNormalizesFilter(t *testing.T) {
	st := &scanStore{}
	e := NewEngine(st)

	got, err := e.Search(context.Background(), model.EventFilter{Search: " pay ", Limit: 9999})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, "pay", st.got.Search)
	assert.Equal(t, model.MaxLimit, st.got.Limit)
}

func TestEngine_SearchPassesResults(t *testing.T) {
	st := &scanStore{result: []*model.Event{{ID: "b", TS: 2}, {ID: "a", TS: 1}}}
	got, err := NewEngine(st).Search(context.Background(), model.EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, model.DefaultLimit, st.got.Limit)
}

func TestEngine_SearchStorageError(t *testing.T) {
	st := &scanStore{err: &model.StorageError{Op: "scan", Err: errors.New("down")}}
	_, err := NewEngine(st).Search(context.Background(), model.EventFilter{})
	var se *model.StorageError
	assert.ErrorAs(t, err, &se)
}
