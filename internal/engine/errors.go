package engine

import (
	"errors"
	"fmt"
)

// Error is a failure reported by the engine itself, as opposed to one
// reported by the remote data source (see remote.StatusError) or a
// validation failure (see query.ValidationError).
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the location the failed operation addressed, if any.
	Path string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeClientOffline means a read could not reach the server and no
	// complete local data exists.
	CodeClientOffline ErrorCode = "CLIENT_OFFLINE"

	// CodeTransactionAborted means the update function failed.
	CodeTransactionAborted ErrorCode = "TRANSACTION_ABORTED"

	// CodeOverriddenBySet means a local write replaced the data under a
	// running transaction.
	CodeOverriddenBySet ErrorCode = "OVERRIDDEN_BY_SET"

	// CodeEngineClosed means the engine no longer accepts work.
	CodeEngineClosed ErrorCode = "ENGINE_CLOSED"

	// CodeWrongEndpoint means a query built for another endpoint was used.
	CodeWrongEndpoint ErrorCode = "WRONG_ENDPOINT"
)

// ErrAbort is returned by a transaction update function to stop the
// transaction without writing. The transaction then completes with
// Committed false and no error.
var ErrAbort = errors.New("engine: transaction aborted by update function")

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsClientOffline reports whether err is a CLIENT_OFFLINE error.
func IsClientOffline(err error) bool { return hasCode(err, CodeClientOffline) }

// IsTransactionAborted reports whether err is a TRANSACTION_ABORTED error.
func IsTransactionAborted(err error) bool { return hasCode(err, CodeTransactionAborted) }

// IsOverriddenBySet reports whether err is an OVERRIDDEN_BY_SET error.
func IsOverriddenBySet(err error) bool { return hasCode(err, CodeOverriddenBySet) }

// IsEngineClosed reports whether err is an ENGINE_CLOSED error.
func IsEngineClosed(err error) bool { return hasCode(err, CodeEngineClosed) }

// IsWrongEndpoint reports whether err is a WRONG_ENDPOINT error.
func IsWrongEndpoint(err error) bool { return hasCode(err, CodeWrongEndpoint) }

func errClosed() error {
	return &Error{Code: CodeEngineClosed, Message: "engine is closed"}
}
