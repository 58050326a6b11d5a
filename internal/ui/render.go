package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/trace"
)

// FormatTime renders an epoch-millisecond timestamp as local wall time.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).Local().Format("15:04:05.000")
}

// EventLine renders one event on a single line:
// time, level, service, message, then correlation ids and tags.
func EventLine(e *model.Event) string {
	var b strings.Builder
	b.WriteString(RenderMuted(FormatTime(e.TS)))
	b.WriteString(" ")
	b.WriteString(RenderLevel(e.Level))
	b.WriteString(" ")
	b.WriteString(RenderAccent(e.Service))
	b.WriteString(" ")
	b.WriteString(e.Message)

	var extra []string
	if e.TraceID != nil {
		extra = append(extra, "trace="+*e.TraceID)
	}
	if e.SpanID != nil {
		extra = append(extra, "span="+*e.SpanID)
	}
	if e.DurationMs != nil {
		extra = append(extra, fmt.Sprintf("%dms", *e.DurationMs))
	}
	keys := make([]string, 0, len(e.Tags))
	for k := range e.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		extra = append(extra, k+"="+e.Tags[k])
	}
	if len(extra) > 0 {
		b.WriteString(" ")
		b.WriteString(RenderMuted(strings.Join(extra, " ")))
	}
	return b.String()
}

// RenderTrace writes the span forest of res as an indented tree, followed
// by a count of events in the trace that carry no span.
func RenderTrace(w io.Writer, res *trace.Result) {
	if len(res.Raw) == 0 {
		fmt.Fprintf(w, "trace %s: no events\n", res.TraceID)
		return
	}
	fmt.Fprintf(w, "trace %s (%d events)\n", RenderAccent(res.TraceID), len(res.Raw))
	for i, root := range res.Roots {
		renderNode(w, root, "", i == len(res.Roots)-1)
	}

	var loose int
	for _, e := range res.Raw {
		if !e.HasSpan() {
			loose++
		}
	}
	if loose > 0 {
		fmt.Fprintln(w, RenderMuted(fmt.Sprintf("%d events without a span", loose)))
	}
}

func renderNode(w io.Writer, n *model.SpanNode, prefix string, last bool) {
	branch, next := "├── ", "│   "
	if last {
		branch, next = "└── ", "    "
	}
	fmt.Fprintf(w, "%s%s%s\n", prefix, branch, spanLabel(n))
	for i, child := range n.Children {
		renderNode(w, child, prefix+next, i == len(n.Children)-1)
	}
}

func spanLabel(n *model.SpanNode) string {
	label := fmt.Sprintf("%s %s %s", RenderLevel(n.Level), RenderAccent(n.Service), n.Message)
	if n.DurationMs != nil {
		label += " " + RenderMuted(fmt.Sprintf("%dms", *n.DurationMs))
	}
	return label + " " + RenderMuted("["+*n.SpanID+"]")
}
