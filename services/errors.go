package services

import "errors"

// ErrValidation marks input rejected before any write is attempted.
var ErrValidation = errors.New("validation error")

// ErrNotFound marks a lookup for a record that does not exist.
var ErrNotFound = errors.New("not found")

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFoundError checks if an error is a not-found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
