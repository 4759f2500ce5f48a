package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a signal update would move a
	// signal out of a terminal status or along a disallowed edge.
	ErrInvalidTransition = errors.New("invalid signal status transition")

	// ErrLeaseHeld is returned when the execution lease is already taken.
	ErrLeaseHeld = errors.New("execution lease held by another pass")
)
