package store

import (
	"fmt"
	"io"

	"github.com/roach88/treesync/internal/engine"
)

// Backend names accepted by OpenBackend.
const (
	BackendNone   = "none"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Cache is an engine.Cache that holds an open file.
type Cache interface {
	engine.Cache
	io.Closer
}

// OpenBackend opens the named backend at path. BackendNone returns a nil
// Cache and no error.
func OpenBackend(backend, path string) (Cache, error) {
	switch backend {
	case BackendNone, "":
		return nil, nil
	case BackendSQLite:
		s, err := Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendBolt:
		b, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
