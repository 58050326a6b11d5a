package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/valyala/fastjson"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError `json:"fields"`
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Add records a failure on field.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Fields returns the names of the offending fields in check order.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe.Field
	}
	return out
}

var parsers fastjson.ParserPool

// ParseSubmission validates a raw ingest body and returns the normalized
// submission. Every offending field is reported in a single *ValidationError;
// a body that is not a JSON object is reported against "body".
//
// Optional fields that are missing or null are left nil.
func ParseSubmission(data []byte) (*Submission, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Field: "body", Message: "invalid JSON"}}}
	}
	if v.Type() != fastjson.TypeObject {
		return nil, &ValidationError{Errors: []FieldError{{Field: "body", Message: "must be a JSON object"}}}
	}

	var (
		ve  ValidationError
		sub Submission
	)

	sub.Service = requiredString(&ve, v, "service")

	switch lv := v.Get("level"); {
	case lv == nil || lv.Type() == fastjson.TypeNull:
		ve.Add("level", "is required")
	case lv.Type() != fastjson.TypeString:
		ve.Add("level", "must be one of DEBUG, INFO, WARN, ERROR")
	default:
		sub.Level = Level(lv.GetStringBytes())
		if !sub.Level.IsValid() {
			ve.Add("level", fmt.Sprintf("invalid value %q", sub.Level))
		}
	}

	sub.Message = requiredString(&ve, v, "message")
	sub.TraceID = optionalString(&ve, v, "traceId")
	sub.SpanID = optionalString(&ve, v, "spanId")
	sub.ParentSpanID = optionalString(&ve, v, "parentSpanId")

	if dv := v.Get("durationMs"); dv != nil && dv.Type() != fastjson.TypeNull {
		if n, ok := durationValue(&ve, dv); ok {
			sub.DurationMs = &n
		}
	}

	sub.Tags = map[string]string{}
	if tv := v.Get("tags"); tv != nil && tv.Type() != fastjson.TypeNull {
		obj, err := tv.Object()
		if err != nil {
			ve.Add("tags", "must be an object of string values")
		} else {
			var bad []string
			obj.Visit(func(key []byte, val *fastjson.Value) {
				if val.Type() != fastjson.TypeString {
					bad = append(bad, string(key))
					return
				}
				sub.Tags[string(key)] = string(val.GetStringBytes())
			})
			if len(bad) > 0 {
				ve.Add("tags", fmt.Sprintf("values must be strings (keys: %s)", strings.Join(bad, ", ")))
			}
		}
	}

	if ve.HasErrors() {
		return nil, &ve
	}
	return &sub, nil
}

func requiredString(ve *ValidationError, v *fastjson.Value, field string) string {
	fv := v.Get(field)
	if fv == nil || fv.Type() == fastjson.TypeNull {
		ve.Add(field, "is required")
		return ""
	}
	if fv.Type() != fastjson.TypeString {
		ve.Add(field, "must be a string")
		return ""
	}
	s := string(fv.GetStringBytes())
	if s == "" {
		ve.Add(field, "must not be empty")
	}
	return s
}

func optionalString(ve *ValidationError, v *fastjson.Value, field string) *string {
	fv := v.Get(field)
	if fv == nil || fv.Type() == fastjson.TypeNull {
		return nil
	}
	if fv.Type() != fastjson.TypeString {
		ve.Add(field, "must be a string")
		return nil
	}
	s := string(fv.GetStringBytes())
	return &s
}

// maxDuration is 2^63, the first value that does not fit an int64.
const maxDuration = float64(1 << 63)

// durationValue reads a non-negative integer. Plain integer literals are
// converted exactly; exponent forms such as 1e3 go through float64 and must
// still be whole and below 2^63.
func durationValue(ve *ValidationError, dv *fastjson.Value) (int64, bool) {
	if dv.Type() != fastjson.TypeNumber {
		ve.Add("durationMs", "must be an integer")
		return 0, false
	}
	n, err := dv.Int64()
	if err != nil {
		f, ferr := dv.Float64()
		switch {
		case ferr != nil || f != math.Trunc(f) || math.IsInf(f, 0):
			ve.Add("durationMs", "must be an integer")
			return 0, false
		case f < 0:
			ve.Add("durationMs", "must be greater than or equal to 0")
			return 0, false
		case f >= maxDuration:
			ve.Add("durationMs", "must be less than 2^63")
			return 0, false
		}
		n = int64(f)
	}
	if n < 0 {
		ve.Add("durationMs", "must be greater than or equal to 0")
		return 0, false
	}
	return n, true
}
