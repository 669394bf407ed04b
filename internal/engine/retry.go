package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxTransactionRetries bounds how often a transaction reruns after
// losing a race with another writer.
const DefaultMaxTransactionRetries = 25

// RetryBudget counts the reruns of one transaction and enforces the
// retry limit.
//
// Each transaction has its own RetryBudget. The budget is checked every
// time the server rejects the transaction's write as stale, before the
// update function runs again.
type RetryBudget struct {
	limit   int
	current int
}

// NewRetryBudget creates a budget allowing limit reruns.
func NewRetryBudget(limit int) *RetryBudget {
	return &RetryBudget{limit: limit}
}

// Check counts one rerun and returns *RetryExhaustedError once the count
// exceeds the limit.
func (b *RetryBudget) Check(path string) error {
	b.current++
	if b.current > b.limit {
		return &RetryExhaustedError{
			Path:    path,
			Retries: b.current - 1,
			Limit:   b.limit,
		}
	}
	return nil
}

// Current returns the number of reruns counted so far.
func (b *RetryBudget) Current() int {
	return b.current
}

// Limit returns the maximum number of reruns.
func (b *RetryBudget) Limit() int {
	return b.limit
}

// RetryExhaustedError is returned when a transaction keeps losing races
// with other writers after its last allowed rerun. The transaction's local
// write has been reverted by the time the caller sees it.
type RetryExhaustedError struct {
	Path    string // The transaction's location
	Retries int    // Reruns performed
	Limit   int    // Maximum allowed reruns
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("transaction at %s gave up after %d retries (limit %d)",
		e.Path, e.Retries, e.Limit)
}

// IsRetryExhausted reports whether err is a *RetryExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}
