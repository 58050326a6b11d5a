package model

// Limits applied to event scans.
const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// EventFilter holds criteria for scanning events. Empty fields match
// everything; set fields are combined with AND.
type EventFilter struct {
	Service string `json:"service,omitempty"`
	Level   Level  `json:"level,omitempty"`
	Search  string `json:"q,omitempty"` // substring of message, case-sensitive
	Limit   int    `json:"limit,omitempty"`
}

// ClampLimit maps a requested limit onto the effective one: non-positive
// values become DefaultLimit and nothing exceeds MaxLimit.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}
