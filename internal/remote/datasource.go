package remote

import (
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
)

// Update is one change pushed to a listen: an overwrite (Snap) or a merge
// (Children, relative to Path).
type Update struct {
	Path     node.Path
	Snap     *node.Node
	Children map[string]*node.Node
}

// IsMerge reports whether u is a merge.
func (u Update) IsMerge() bool {
	return u.Children != nil
}

// ListenCallbacks receive the data of one listen. OnInitialData carries
// the complete data at the listen's path; OnUpdate carries later changes;
// OnError ends the listen.
type ListenCallbacks struct {
	OnInitialData func(data *node.Node)
	OnUpdate      func(u Update)
	OnError       func(err error)
}

// DataSource is the remote side of the engine. Callbacks may run on any
// goroutine and must not call back into the DataSource synchronously.
//
// A listen delivers the full data at its path whatever its params; the
// params let the remote index the location.
type DataSource interface {
	Listen(path node.Path, params query.Params, cb ListenCallbacks)
	Unlisten(path node.Path, params query.Params)

	// Put overwrites path. A non-empty hash makes the write conditional on
	// the current value hashing to it (node.Hash); a mismatch fails with
	// CodeDataStale.
	Put(path node.Path, value *node.Node, hash string, onComplete func(error))
	Merge(path node.Path, changes map[string]*node.Node, onComplete func(error))
	Get(path node.Path, params query.Params, onComplete func(*node.Node, error))

	SetConnectionHandlers(onConnect, onDisconnect func())
}
