package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when a referenced node id does not exist
	// in the file's graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrParentNotFound is returned by CreateNode when the requested parent
	// is absent. It matches ErrNodeNotFound.
	ErrParentNotFound = fmt.Errorf("parent %w", ErrNodeNotFound)

	// ErrMissingField is returned when a required argument is empty.
	ErrMissingField = errors.New("missing required field")

	// ErrAckMismatch is the base error for every acknowledgment rejection.
	// The queue is left untouched whenever it is returned.
	ErrAckMismatch = errors.New("acknowledgment rejected")

	// ErrAckEmpty: no node ids were supplied.
	ErrAckEmpty = fmt.Errorf("node_ids empty: %w", ErrAckMismatch)

	// ErrAckOverflow: more node ids than entries currently pending.
	ErrAckOverflow = fmt.Errorf("more node_ids than pending changes: %w", ErrAckMismatch)
)

// ackMismatchAt reports the first index where the acknowledgment diverged
// from the queue head.
func ackMismatchAt(i int, want, got string) error {
	return fmt.Errorf("mismatch at index %d: pending %s, acked %s: %w", i, want, got, ErrAckMismatch)
}
