// Package services is the persistence gateway: one small service per entity,
// all speaking raw SQL against the shared SQLite handle.
package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned on unique-constraint conflicts.
var ErrAlreadyExists = errors.New("already exists")

// ValidationError reports a rejected write with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
