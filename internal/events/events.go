// Package events publishes accepted events to NATS so other processes can
// consume the ingest stream.
package events

import (
	"context"
	"strings"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// SubjectPrefix is the root of every event subject.
const SubjectPrefix = "traceql.events"

// SubjectAll matches every published event.
const SubjectAll = SubjectPrefix + ".>"

// Header keys set on published messages.
const (
	HeaderEventID = "Traceql-Event-Id"
	HeaderTraceID = "Traceql-Trace-Id"
	HeaderLevel   = "Traceql-Level"
)

// Subject returns the subject an event is published on:
// traceql.events.<service>, with characters NATS reserves replaced by "_".
func Subject(e *model.Event) string {
	return SubjectPrefix + "." + subjectToken(e.Service)
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Publisher is the interface for emitting accepted events.
type Publisher interface {
	Publish(ctx context.Context, e *model.Event) error
	Close() error
}
