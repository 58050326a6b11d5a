package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/trace"
	"github.com/alfredjeanlab/traceql/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// printEvents writes events one per line, newest first as returned.
func printEvents(w io.Writer, events []*model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no events"))
		return
	}
	for _, e := range events {
		fmt.Fprintln(w, ui.EventLine(e))
	}
}

func printTrace(w io.Writer, res *trace.Result) {
	ui.RenderTrace(w, res)
}
