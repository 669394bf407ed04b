package synctree

import (
	"slices"

	"github.com/roach88/treesync/internal/node"
)

// CompoundWrite is a set of overwrites at distinct locations. No stored
// write lies below another: writing under an existing write updates that
// write in place.
type CompoundWrite struct {
	tree *ImmutableTree[*node.Node]
}

// EmptyCompoundWrite holds no writes.
func EmptyCompoundWrite() CompoundWrite {
	return CompoundWrite{}
}

// CompoundWriteFromMerge builds a write from relative paths and values.
func CompoundWriteFromMerge(changes map[string]*node.Node) CompoundWrite {
	return EmptyCompoundWrite().AddWrites(node.Root(), changes)
}

// IsEmpty reports whether no write is stored.
func (w CompoundWrite) IsEmpty() bool {
	return w.tree.IsEmpty()
}

// AddWrite layers n at path.
func (w CompoundWrite) AddWrite(path node.Path, n *node.Node) CompoundWrite {
	if path.IsEmpty() {
		return CompoundWrite{tree: LeafTree(n)}
	}
	if at, existing, ok := w.tree.RootMost(path); ok {
		rel := node.Relative(at, path)
		if rel.Back() == node.PriorityKey && existing.Child(rel.Parent()).IsEmpty() {
			// A priority cannot be set on a missing value.
			return w
		}
		return CompoundWrite{tree: w.tree.Set(at, existing.UpdateChild(rel, n))}
	}
	return CompoundWrite{tree: w.tree.SetTree(path, LeafTree(n))}
}

// AddWrites layers every change of a merge below path.
func (w CompoundWrite) AddWrites(path node.Path, changes map[string]*node.Node) CompoundWrite {
	for _, c := range sortedChanges(changes) {
		w = w.AddWrite(path.Join(c.path), c.node)
	}
	return w
}

// RemoveWrite drops everything written at or below path. Writes above path
// are kept whole.
func (w CompoundWrite) RemoveWrite(path node.Path) CompoundWrite {
	if path.IsEmpty() {
		return EmptyCompoundWrite()
	}
	return CompoundWrite{tree: w.tree.SetTree(path, nil)}
}

// HasCompleteWrite reports whether path is fully determined by the writes.
func (w CompoundWrite) HasCompleteWrite(path node.Path) bool {
	_, ok := w.CompleteNode(path)
	return ok
}

// CompleteNode returns the data at path when a write at or above it fully
// determines it.
func (w CompoundWrite) CompleteNode(path node.Path) (*node.Node, bool) {
	at, n, ok := w.tree.RootMost(path)
	if !ok {
		return nil, false
	}
	return n.Child(node.Relative(at, path)), true
}

// ChildCompoundWrite returns the writes below path, relative to it.
func (w CompoundWrite) ChildCompoundWrite(path node.Path) CompoundWrite {
	if path.IsEmpty() {
		return w
	}
	if n, ok := w.CompleteNode(path); ok {
		return CompoundWrite{tree: LeafTree(n)}
	}
	return CompoundWrite{tree: w.tree.Subtree(path)}
}

// Apply layers the writes over n.
func (w CompoundWrite) Apply(n *node.Node) *node.Node {
	return applySubtree(node.Root(), w.tree, n)
}

// Foreach visits every stored write in path order.
func (w CompoundWrite) Foreach(fn func(path node.Path, n *node.Node)) {
	w.tree.Foreach(fn)
}

func applySubtree(at node.Path, t *ImmutableTree[*node.Node], n *node.Node) *node.Node {
	if v, ok := t.Value(); ok {
		return n.UpdateChild(at, v)
	}
	var priority *node.Node
	for _, k := range t.ChildKeys() {
		child := t.Child(k)
		if k == node.PriorityKey {
			priority, _ = child.Value()
			continue
		}
		n = applySubtree(at.Child(k), child, n)
	}
	if priority != nil && !n.Child(at).IsEmpty() {
		n = n.UpdateChild(at.Child(node.PriorityKey), priority)
	}
	return n
}

type change struct {
	path node.Path
	node *node.Node
}

// sortedChanges parses merge keys and orders them so that a change to a
// parent is applied before changes below it.
func sortedChanges(changes map[string]*node.Node) []change {
	out := make([]change, 0, len(changes))
	for k, n := range changes {
		out = append(out, change{path: node.ParsePath(k), node: n})
	}
	slices.SortFunc(out, func(a, b change) int {
		return node.ComparePaths(a.path, b.path)
	})
	return out
}
