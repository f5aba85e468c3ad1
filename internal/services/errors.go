package services

import "errors"

var (
	// ErrNotFound is returned when the tenant id is unknown.
	ErrNotFound = errors.New("tenant not found")
	// ErrInvalidTransition is returned when the operation is not legal from
	// the tenant's current status.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrPersistence is returned when the transition could not be committed.
	// The whole operation may be retried.
	ErrPersistence = errors.New("lifecycle persistence failure")
	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// classified reports whether err already carries one of the service errors.
func classified(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrInvalidInput)
}
