package testutil

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a logger that drops every record. Engine tests use
// it to keep Warn output from recovered callback panics out of test logs.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
