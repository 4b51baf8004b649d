package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when an execution or session has no history.
	ErrNotFound = errors.New("history entry not found")

	// ErrConflict is returned when an execution id was already appended.
	ErrConflict = errors.New("history entry already exists")
)
