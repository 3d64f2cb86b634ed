package application

import (
	"errors"
	"fmt"

	"github.com/example/eventhub/internal/persistence"
)

var (
	// ErrUnauthenticated is returned when an operation needs a signed-in principal.
	ErrUnauthenticated = errors.New("application: unauthenticated")
	// ErrForbidden is returned when the acting principal lacks permission for an operation.
	ErrForbidden = errors.New("application: forbidden")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a unique value such as an email is taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrInvalidCredentials is returned when login or password checks fail.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrInvalidState is returned when an aggregate's lifecycle forbids the operation.
	ErrInvalidState = errors.New("application: invalid state")
	// ErrUpstream is returned when the mailer or payment processor fails.
	ErrUpstream = errors.New("application: upstream failure")
)

// ValidationError reports the first violated input rule. Message is meant
// for end users.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return v.Message
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateError reports a lifecycle gate such as an already canceled event.
// It matches ErrInvalidState under errors.Is.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

// Is reports whether target is ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

func stateError(message string) *StateError {
	return &StateError{Message: message}
}

// NotFoundError names the missing resource while matching ErrNotFound.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s found with that id", e.Resource)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// mapRepoError converts persistence sentinels into application errors.
// resource names the entity for not-found messages.
func mapRepoError(err error, resource string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, persistence.ErrNotFound):
		return notFound(resource)
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, resource)
	}
	return err
}

func upstream(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, what, err)
}
