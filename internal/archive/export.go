package archive

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Type  string `json:"type"`
	From  int64  `json:"from"`
	To    int64  `json:"to"`
	Count int    `json:"count"`
}

// Window describes the events covered by one archive object.
type Window struct {
	From  int64 // ts of the oldest event
	To    int64 // ts of the newest event
	Count int
	Last  store.Cursor // position of the newest event

	// Objects is the number of archive objects written; ExportJSONL leaves
	// it zero.
	Objects int
}

// Key returns the object name for the window. The newest event's id keeps
// keys unique when consecutive pages share a timestamp range.
func (w Window) Key() string {
	return fmt.Sprintf("events-%d-%d-%s.jsonl.zst", w.From, w.To, w.Last.ID)
}

// extend folds next, the window written after w, into w.
func (w Window) extend(next Window) Window {
	if w.Count == 0 {
		next.Objects = 1
		return next
	}
	w.To = next.To
	w.Count += next.Count
	w.Last = next.Last
	w.Objects++
	return w
}

// ExportJSONL writes a header line followed by one line per event to w and
// returns the window they span. events must be in ascending (ts, id) order
// and non-empty.
func ExportJSONL(w io.Writer, events []*model.Event) (Window, error) {
	if len(events) == 0 {
		return Window{}, fmt.Errorf("export: no events")
	}
	first, last := events[0], events[len(events)-1]
	win := Window{
		From:  first.TS,
		To:    last.TS,
		Count: len(events),
		Last:  store.Cursor{}.Advance(last),
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Type:  "archive",
		From:  win.From,
		To:    win.To,
		Count: win.Count,
	}); err != nil {
		return Window{}, fmt.Errorf("encode header: %w", err)
	}
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return Window{}, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
	}
	return win, nil
}
