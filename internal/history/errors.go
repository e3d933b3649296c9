package history

import (
	"errors"
	"fmt"
)

// ErrNotLoaded is returned by Append when the store has not been loaded
var ErrNotLoaded = errors.New("history: store not loaded")

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("history: store closed")

// CorruptHistoryError reports a durable log that cannot be replayed
type CorruptHistoryError struct {
	Path string
	// Record is the 1-based line or row position, 0 when the whole store is unreadable
	Record int
	Reason string
	Err    error
}

func (e *CorruptHistoryError) Error() string {
	msg := fmt.Sprintf("history %s is corrupt", e.Path)
	if e.Record > 0 {
		msg += fmt.Sprintf(" at record %d", e.Record)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptHistoryError) Unwrap() error {
	return e.Err
}
