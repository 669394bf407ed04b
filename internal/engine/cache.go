package engine

import (
	"context"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/synctree"
)

// Cache is the optional persistent collaborator. It keeps pending writes
// across restarts and remembers server data so a listen can show the last
// known value before the server answers. internal/store provides SQLite
// and bbolt implementations.
//
// The engine calls a Cache only from its loop.
type Cache interface {
	// SaveWrite records a pending user write.
	SaveWrite(ctx context.Context, w synctree.UserWrite) error
	// RemoveWrite forgets an acknowledged or rejected write.
	RemoveWrite(ctx context.Context, writeID int64) error
	// PendingWrites returns the recorded writes in id order.
	PendingWrites(ctx context.Context) ([]synctree.UserWrite, error)
	// SaveServerData records the complete server data at path, replacing
	// anything recorded at or below it.
	SaveServerData(ctx context.Context, path node.Path, n *node.Node) error
	// LoadServerData returns the recorded server data at path, read from
	// path itself or from a recorded ancestor.
	LoadServerData(ctx context.Context, path node.Path) (*node.Node, bool, error)
}
