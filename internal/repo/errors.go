package repo

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status update would move a
	// transaction out of a terminal state or skip the lifecycle order.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
)
