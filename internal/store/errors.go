package store

import "errors"

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotPending is returned when a state-guarded update finds the row
	// already moved past the expected status (single-winner transitions).
	ErrNotPending = errors.New("not pending")

	// ErrHasChildren is returned when deleting a node that still has children.
	ErrHasChildren = errors.New("node has children")
)
