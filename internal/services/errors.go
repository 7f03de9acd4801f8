package services

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("principal not authenticated")
	ErrNotFound        = errors.New("task not found")
	ErrValidation      = errors.New("validation failed")
	ErrPersistence     = errors.New("persistence failure")
)

// ValidationError names the offending input field so callers can render a
// form-level message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
