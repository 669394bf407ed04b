package query

import (
	"errors"
	"fmt"
)

// ValidationError reports a query built against its construction rules.
// It is returned synchronously by the violating call; the receiver of that
// call is never modified.
type ValidationError struct {
	// Op names the builder method, e.g. "Query.startAt".
	Op string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsValidationError returns true if the error is a query validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(op, format string, args ...any) error {
	return &ValidationError{Op: op, Message: fmt.Sprintf(format, args...)}
}
