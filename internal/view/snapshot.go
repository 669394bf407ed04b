package view

import (
	"github.com/roach88/treesync/internal/index"
	"github.com/roach88/treesync/internal/node"
)

// Snapshot is an immutable view of the data at a location, as delivered to
// listeners and futures. Children iterate in the query's index order.
type Snapshot struct {
	key  string
	node *node.Node
	idx  index.Index
}

// NewSnapshot wraps n for delivery.
func NewSnapshot(key string, n *node.Node, idx index.Index) Snapshot {
	if n == nil {
		n = node.Empty()
	}
	return Snapshot{key: key, node: n, idx: idx}
}

// Key is the last key of the snapshot's location.
func (s Snapshot) Key() string { return s.key }

// Node returns the underlying node.
func (s Snapshot) Node() *node.Node {
	if s.node == nil {
		return node.Empty()
	}
	return s.node
}

// Exists reports whether there is data at the location.
func (s Snapshot) Exists() bool { return !s.Node().IsEmpty() }

// Val exports the data as plain Go values.
func (s Snapshot) Val() any { return s.Node().Val() }

// ExportVal exports the data with priorities.
func (s Snapshot) ExportVal() any { return s.Node().ExportVal() }

// Priority returns the priority value, or nil.
func (s Snapshot) Priority() any { return s.Node().Priority().Value() }

// NumChildren returns the number of children.
func (s Snapshot) NumChildren() int { return s.Node().NumChildren() }

// HasChild reports whether the relative path holds data.
func (s Snapshot) HasChild(path string) bool {
	return !s.Node().Child(node.ParsePath(path)).IsEmpty()
}

// Child returns the snapshot at a relative path.
func (s Snapshot) Child(path string) Snapshot {
	p := node.ParsePath(path)
	key := p.Back()
	if p.IsEmpty() {
		key = s.key
	}
	return Snapshot{key: key, node: s.Node().Child(p), idx: index.Key}
}

// ForEach visits the children in index order until fn returns true. It
// reports whether iteration was stopped early.
func (s Snapshot) ForEach(fn func(Snapshot) bool) bool {
	idx := s.idx
	if idx.Kind() == 0 {
		idx = index.Key
	}
	for _, c := range idx.SortedChildren(s.Node()) {
		if fn(Snapshot{key: c.Name, node: c.Node, idx: index.Key}) {
			return true
		}
	}
	return false
}

// Keys returns the child keys in index order.
func (s Snapshot) Keys() []string {
	var keys []string
	s.ForEach(func(c Snapshot) bool {
		keys = append(keys, c.key)
		return false
	})
	return keys
}

func (s Snapshot) String() string {
	return s.Node().String()
}
