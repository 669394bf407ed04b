package synctree

import (
	"maps"
	"slices"

	"github.com/roach88/treesync/internal/node"
)

// ImmutableTree is a persistent tree keyed by path, holding an optional
// value at every location. Updates copy only the nodes along the path.
// A nil *ImmutableTree behaves as the empty tree.
type ImmutableTree[V any] struct {
	value    V
	hasValue bool
	children map[string]*ImmutableTree[V]
}

// LeafTree returns a tree holding v at its root.
func LeafTree[V any](v V) *ImmutableTree[V] {
	return &ImmutableTree[V]{value: v, hasValue: true}
}

// IsEmpty reports whether the tree holds no value anywhere.
func (t *ImmutableTree[V]) IsEmpty() bool {
	return t == nil || (!t.hasValue && len(t.children) == 0)
}

// Value returns the value at the root.
func (t *ImmutableTree[V]) Value() (V, bool) {
	if t == nil {
		var zero V
		return zero, false
	}
	return t.value, t.hasValue
}

// Child returns the subtree under key.
func (t *ImmutableTree[V]) Child(key string) *ImmutableTree[V] {
	if t == nil {
		return nil
	}
	return t.children[key]
}

// ChildKeys returns the keys of the direct subtrees in key order.
func (t *ImmutableTree[V]) ChildKeys() []string {
	if t == nil {
		return nil
	}
	keys := slices.Collect(maps.Keys(t.children))
	slices.SortFunc(keys, node.CompareNames)
	return keys
}

// Subtree returns the tree rooted at path.
func (t *ImmutableTree[V]) Subtree(path node.Path) *ImmutableTree[V] {
	cur := t
	for _, k := range path.Pieces() {
		cur = cur.Child(k)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Get returns the value stored exactly at path.
func (t *ImmutableTree[V]) Get(path node.Path) (V, bool) {
	return t.Subtree(path).Value()
}

// RootMost finds the value closest to the root on the way to path. It
// returns the location of that value.
func (t *ImmutableTree[V]) RootMost(path node.Path) (node.Path, V, bool) {
	cur := t
	at := node.Root()
	for _, k := range path.Pieces() {
		if cur == nil {
			break
		}
		if cur.hasValue {
			return at, cur.value, true
		}
		cur = cur.children[k]
		at = at.Child(k)
	}
	if cur != nil && cur.hasValue {
		return at, cur.value, true
	}
	var zero V
	return node.Root(), zero, false
}

// SetTree replaces the subtree at path. An empty sub prunes the path.
func (t *ImmutableTree[V]) SetTree(path node.Path, sub *ImmutableTree[V]) *ImmutableTree[V] {
	if path.IsEmpty() {
		if sub.IsEmpty() {
			return nil
		}
		return sub
	}
	front := path.Front()
	child := t.Child(front).SetTree(path.PopFront(), sub)
	return t.withChild(front, child)
}

// Set stores v at path, keeping whatever lies below it.
func (t *ImmutableTree[V]) Set(path node.Path, v V) *ImmutableTree[V] {
	sub := t.Subtree(path)
	next := &ImmutableTree[V]{value: v, hasValue: true}
	if sub != nil {
		next.children = sub.children
	}
	return t.SetTree(path, next)
}

// Remove deletes the value at path, keeping whatever lies below it.
func (t *ImmutableTree[V]) Remove(path node.Path) *ImmutableTree[V] {
	sub := t.Subtree(path)
	if sub == nil {
		return t
	}
	return t.SetTree(path, &ImmutableTree[V]{children: sub.children})
}

func (t *ImmutableTree[V]) withChild(key string, child *ImmutableTree[V]) *ImmutableTree[V] {
	out := &ImmutableTree[V]{}
	if t != nil {
		out.value, out.hasValue = t.value, t.hasValue
		out.children = maps.Clone(t.children)
	}
	if child.IsEmpty() {
		delete(out.children, key)
	} else {
		if out.children == nil {
			out.children = map[string]*ImmutableTree[V]{}
		}
		out.children[key] = child
	}
	if out.IsEmpty() {
		return nil
	}
	return out
}

// Foreach visits every stored value, parents before children and siblings
// in key order. Paths are relative to the tree root.
func (t *ImmutableTree[V]) Foreach(fn func(path node.Path, v V)) {
	t.foreach(node.Root(), fn)
}

func (t *ImmutableTree[V]) foreach(at node.Path, fn func(node.Path, V)) {
	if t == nil {
		return
	}
	if t.hasValue {
		fn(at, t.value)
	}
	for _, k := range t.ChildKeys() {
		t.children[k].foreach(at.Child(k), fn)
	}
}
