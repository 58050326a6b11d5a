package model

// Level is the severity of an event.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Levels lists every valid level, lowest severity first.
var Levels = []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}

// String returns the string representation of the level.
func (l Level) String() string {
	return string(l)
}

// IsValid checks whether the level is a known value.
func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Event is a single ingested log or span record. Events are created once at
// ingestion and never updated.
//
// The correlation fields and DurationMs are nil when the producer did not
// send them; they are serialized as explicit nulls.
type Event struct {
	ID           string            `json:"id"`
	TS           int64             `json:"ts"` // epoch milliseconds, assigned at ingestion
	Service      string            `json:"service"`
	Level        Level             `json:"level"`
	Message      string            `json:"message"`
	TraceID      *string           `json:"traceId"`
	SpanID       *string           `json:"spanId"`
	ParentSpanID *string           `json:"parentSpanId"`
	DurationMs   *int64            `json:"durationMs"`
	Tags         map[string]string `json:"tags"`
}

// HasSpan reports whether the event identifies itself as a span.
func (e *Event) HasSpan() bool {
	return e.SpanID != nil && *e.SpanID != ""
}

// ParentSpan returns the parent span id, or "" when the event has none.
func (e *Event) ParentSpan() string {
	if e.ParentSpanID == nil {
		return ""
	}
	return *e.ParentSpanID
}

// Submission is a validated ingest payload before the server assigns its
// identity and timestamp.
type Submission struct {
	Service      string
	Level        Level
	Message      string
	TraceID      *string
	SpanID       *string
	ParentSpanID *string
	DurationMs   *int64
	Tags         map[string]string
}

// NewEvent builds the event for a submission. Tags are copied and never nil.
func NewEvent(id string, ts int64, s *Submission) *Event {
	tags := make(map[string]string, len(s.Tags))
	for k, v := range s.Tags {
		tags[k] = v
	}
	return &Event{
		ID:           id,
		TS:           ts,
		Service:      s.Service,
		Level:        s.Level,
		Message:      s.Message,
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentSpanID,
		DurationMs:   s.DurationMs,
		Tags:         tags,
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 {
	return &n
}
