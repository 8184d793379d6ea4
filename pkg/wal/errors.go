package wal

import (
	"errors"
	"fmt"
)

// Core errors
var (
	// ErrEmptyRecord is returned when Append is called with no bytes.
	ErrEmptyRecord = errors.New("wal: empty record")

	// ErrShortPersist is returned when storage accepts only part of a
	// segment run. Partial acceptance is treated as failure; the segment
	// stays in the Writing state with its bytes intact.
	ErrShortPersist = errors.New("wal: storage accepted partial segment run")
)

// InvariantError reports a coordination state the log cannot continue
// from, such as the rotation target not being Queued. The in-memory
// bytes are preserved, but callers should treat the log as wedged.
type InvariantError struct {
	// Segment is the ring index of the offending segment.
	Segment int

	// State is the segment state observed at the failure point.
	State SegmentState

	// Msg describes the violated expectation.
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("wal: invariant violation: segment %d is %s: %s", e.Segment, e.State, e.Msg)
}
