package database

import "errors"

var (
	// ErrNotFound means no row exists with the requested id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the row exists but its current status forbids
	// the requested transition.
	ErrInvalidState = errors.New("invalid state for operation")
)
