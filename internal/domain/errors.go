package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or out-of-range request fields.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is used at the HTTP boundary only. The repository and
	// service report a missing job with ok == false instead.
	ErrNotFound = errors.New("extraction job not found")

	// ErrConflict is returned when inserting a job whose id already exists.
	ErrConflict = errors.New("extraction job already exists")

	// ErrStorage wraps connectivity and integrity failures from the store.
	ErrStorage = errors.New("storage failure")

	// ErrUnauthorized marks a missing, invalid or expired credential.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError describes a single rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
