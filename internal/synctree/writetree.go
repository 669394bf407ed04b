package synctree

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/view"
)

// UserWrite is one pending local write. Exactly one of Snap (overwrite) or
// Children (merge, relative paths) is set.
type UserWrite struct {
	WriteID  int64
	Path     node.Path
	Snap     *node.Node
	Children map[string]*node.Node
	Visible  bool
}

// IsMerge reports whether w is a merge.
func (w UserWrite) IsMerge() bool {
	return w.Children != nil
}

// Touches reports whether w writes at, above or below path.
func (w UserWrite) Touches(path node.Path) bool {
	return w.Path.Contains(path) || path.Contains(w.Path)
}

// WriteTree is the log of pending writes ordered by write id, plus the
// visible writes layered into one CompoundWrite.
type WriteTree struct {
	writes  []UserWrite
	visible CompoundWrite
	lastID  int64
}

// NewWriteTree returns an empty write log.
func NewWriteTree() *WriteTree {
	return &WriteTree{}
}

// AddOverwrite records an overwrite. Write ids must increase.
func (t *WriteTree) AddOverwrite(path node.Path, snap *node.Node, writeID int64, visible bool) {
	t.checkID(writeID)
	t.writes = append(t.writes, UserWrite{WriteID: writeID, Path: path, Snap: snap, Visible: visible})
	if visible {
		t.visible = t.visible.AddWrite(path, snap)
	}
}

// AddMerge records a merge. Merges are always visible.
func (t *WriteTree) AddMerge(path node.Path, changes map[string]*node.Node, writeID int64) {
	t.checkID(writeID)
	changes = maps.Clone(changes)
	if changes == nil {
		changes = map[string]*node.Node{}
	}
	t.writes = append(t.writes, UserWrite{WriteID: writeID, Path: path, Children: changes, Visible: true})
	t.visible = t.visible.AddWrites(path, changes)
}

func (t *WriteTree) checkID(writeID int64) {
	if writeID <= t.lastID {
		panic(fmt.Sprintf("synctree: write id %d is not after %d", writeID, t.lastID))
	}
	t.lastID = writeID
}


// Writes returns the pending writes in id order.
func (t *WriteTree) Writes() []UserWrite {
	return slices.Clone(t.writes)
}

// Len returns the number of pending writes.
func (t *WriteTree) Len() int {
	return len(t.writes)
}

// RemoveWrite drops a write and rebuilds the visible layer from the writes
// that remain. It reports whether the write was found.
func (t *WriteTree) RemoveWrite(writeID int64) (UserWrite, bool) {
	i := slices.IndexFunc(t.writes, func(w UserWrite) bool { return w.WriteID == writeID })
	if i < 0 {
		return UserWrite{}, false
	}
	removed := t.writes[i]
	t.writes = slices.Delete(t.writes, i, i+1)
	t.visible = layer(t.writes, nil, false)
	return removed, true
}

// layer combines writes in id order, skipping excluded ids and, unless
// includeHidden is set, hidden writes.
func layer(writes []UserWrite, exclude []int64, includeHidden bool) CompoundWrite {
	w := EmptyCompoundWrite()
	for _, uw := range writes {
		if slices.Contains(exclude, uw.WriteID) || (!uw.Visible && !includeHidden) {
			continue
		}
		if uw.IsMerge() {
			w = w.AddWrites(uw.Path, uw.Children)
		} else {
			w = w.AddWrite(uw.Path, uw.Snap)
		}
	}
	return w
}

// CalcEventCache layers the visible pending writes at path over the server
// data for path. The result is complete when the server data is complete
// or a write fully determines the location.
func (t *WriteTree) CalcEventCache(path node.Path, server view.CacheNode) view.CacheNode {
	return calcEventCache(t.visible, path, server)
}

// CalcCompleteEventCache is CalcEventCache over every pending write,
// hidden ones included, except those in exclude.
func (t *WriteTree) CalcCompleteEventCache(path node.Path, server view.CacheNode, exclude []int64) view.CacheNode {
	return calcEventCache(layer(t.writes, exclude, true), path, server)
}

func calcEventCache(writes CompoundWrite, path node.Path, server view.CacheNode) view.CacheNode {
	if n, ok := writes.CompleteNode(path); ok {
		return view.CacheNode{Node: n, Complete: true}
	}
	base := server.Node
	if base == nil {
		base = node.Empty()
	}
	return view.CacheNode{
		Node:     writes.ChildCompoundWrite(path).Apply(base),
		Complete: server.Complete,
	}
}
