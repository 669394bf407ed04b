package remote

import (
	"errors"
	"fmt"
)

// Status codes reported by a data source.
const (
	CodePermissionDenied = "permission_denied"
	CodeDataStale        = "datastale"
	CodeDisconnected     = "disconnected"
	CodeUnavailable      = "unavailable"
)

// StatusError is a failure reported by the remote side.
type StatusError struct {
	Code    string
	Message string
	Path    string
}

func (e *StatusError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the code of a StatusError in err's chain, or "".
func Status(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsDataStale reports whether a conditional write lost a race.
func IsDataStale(err error) bool {
	return Status(err) == CodeDataStale
}

// IsPermissionDenied reports whether the remote refused the operation.
func IsPermissionDenied(err error) bool {
	return Status(err) == CodePermissionDenied
}

// IsDisconnected reports whether the operation failed for lack of a
// connection.
func IsDisconnected(err error) bool {
	return Status(err) == CodeDisconnected
}
