// Package idgen generates event identifiers backed by nanoid.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// EventPrefix is prepended to every event ID.
const EventPrefix = "ev-"

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 16

// Func produces a new unique identifier.
type Func func() (string, error)

// EventID returns a new event ID.
func EventID() (string, error) {
	return WithPrefix(EventPrefix)
}

// WithPrefix returns a new random ID with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Sequence returns a Func yielding prefix1, prefix2, ... Safe for concurrent use.
func Sequence(prefix string) Func {
	var n atomic.Int64
	return func() (string, error) {
		return prefix + strconv.FormatInt(n.Add(1), 10), nil
	}
}
