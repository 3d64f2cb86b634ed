package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key (id, email) is already taken.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a write breaks a schema constraint,
	// such as a booking that references an unknown event.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
)
