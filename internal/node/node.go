package node

import "sort"

// PriorityKey addresses a node's priority when used as the last path key.
const PriorityKey = ".priority"

// Node is an immutable tree value: Empty (null), a leaf (bool, float64 or
// string) or a set of children sorted by key order. Any node except Empty may
// carry a priority.
//
// Nodes are persistent. Updates return a new Node that shares every
// untouched child with the receiver.
type Node struct {
	value    any         // bool, float64 or string; nil for empty/children nodes
	children []NamedNode // sorted by CompareNames; never holds an empty child
	priority *Node       // nil when unset
}

// NamedNode pairs a key with a node. It is the unit of iteration under an
// index.
type NamedNode struct {
	Name string
	Node *Node
}

var (
	empty   = &Node{}
	maxNode = &Node{}
)

// Empty returns the null node.
func Empty() *Node {
	return empty
}

// Max returns the sentinel that orders after every value. It only appears
// in range bounds, never in data.
func Max() *Node {
	return maxNode
}

// newLeaf builds a leaf without validation. v must be bool, float64 or string.
func newLeaf(v any, priority *Node) *Node {
	return &Node{value: v, priority: priorityOrNil(priority)}
}

func priorityOrNil(p *Node) *Node {
	if p == nil || p.IsEmpty() {
		return nil
	}
	return p
}

// IsEmpty reports whether n is null.
func (n *Node) IsEmpty() bool {
	return n != maxNode && n.value == nil && len(n.children) == 0
}

// IsLeaf reports whether n holds a primitive value.
func (n *Node) IsLeaf() bool {
	return n.value != nil
}

// Value returns the primitive held by a leaf, or nil.
func (n *Node) Value() any {
	return n.value
}

// Priority returns n's priority, or Empty.
func (n *Node) Priority() *Node {
	if n.priority == nil {
		return empty
	}
	return n.priority
}

// UpdatePriority returns n with a new priority. Empty stays Empty: null
// values cannot carry a priority.
func (n *Node) UpdatePriority(p *Node) *Node {
	if n.IsEmpty() || n == maxNode {
		return n
	}
	return &Node{value: n.value, children: n.children, priority: priorityOrNil(p)}
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// Children returns the children in key order. The slice is a copy; the
// nodes it points to are shared.
func (n *Node) Children() []NamedNode {
	out := make([]NamedNode, len(n.children))
	copy(out, n.children)
	return out
}

// ForEachChild calls fn for each child in key order until fn returns false.
func (n *Node) ForEachChild(fn func(NamedNode) bool) {
	for _, c := range n.children {
		if !fn(c) {
			return
		}
	}
}

func (n *Node) search(name string) (int, bool) {
	i := sort.Search(len(n.children), func(i int) bool {
		return CompareNames(n.children[i].Name, name) >= 0
	})
	return i, i < len(n.children) && n.children[i].Name == name
}

// HasChild reports whether n has a non-empty child named name.
func (n *Node) HasChild(name string) bool {
	_, ok := n.search(name)
	return ok
}

// ImmediateChild returns the child named name, or Empty. The name
// ".priority" returns the priority.
func (n *Node) ImmediateChild(name string) *Node {
	if name == PriorityKey {
		return n.Priority()
	}
	if i, ok := n.search(name); ok {
		return n.children[i].Node
	}
	return empty
}

// Child returns the node at path, or Empty.
func (n *Node) Child(path Path) *Node {
	cur := n
	for _, k := range path.pieces {
		if k == PriorityKey {
			cur = cur.Priority()
			continue
		}
		cur = cur.ImmediateChild(k)
		if cur.IsEmpty() {
			return empty
		}
	}
	return cur
}

// UpdateImmediateChild returns n with the child named name replaced by c.
// Setting Empty removes the child. A leaf receiving a child becomes a
// children node and keeps its priority.
func (n *Node) UpdateImmediateChild(name string, c *Node) *Node {
	if name == PriorityKey {
		return n.UpdatePriority(c)
	}
	if n.IsLeaf() {
		if c.IsEmpty() {
			return n
		}
		return (&Node{children: []NamedNode{{Name: name, Node: c}}}).UpdatePriority(n.Priority())
	}

	i, found := n.search(name)
	var children []NamedNode
	switch {
	case c.IsEmpty() && !found:
		return n
	case c.IsEmpty():
		children = make([]NamedNode, 0, len(n.children)-1)
		children = append(children, n.children[:i]...)
		children = append(children, n.children[i+1:]...)
	case found:
		children = make([]NamedNode, len(n.children))
		copy(children, n.children)
		children[i] = NamedNode{Name: name, Node: c}
	default:
		children = make([]NamedNode, 0, len(n.children)+1)
		children = append(children, n.children[:i]...)
		children = append(children, NamedNode{Name: name, Node: c})
		children = append(children, n.children[i:]...)
	}

	if len(children) == 0 {
		return empty
	}
	return &Node{children: children, priority: n.priority}
}

// UpdateChild returns n with the node at path replaced by c. Only the nodes
// along path are copied.
func (n *Node) UpdateChild(path Path, c *Node) *Node {
	if path.IsEmpty() {
		return c
	}
	front := path.Front()
	if front == PriorityKey {
		if path.Len() != 1 {
			panic("node: .priority must be the last key of a path")
		}
		return n.UpdatePriority(c)
	}
	child := n.ImmediateChild(front).UpdateChild(path.PopFront(), c)
	return n.UpdateImmediateChild(front, child)
}

// Equal reports deep structural equality, priorities included.
func (n *Node) Equal(o *Node) bool {
	if n == o {
		return true
	}
	if n == maxNode || o == maxNode {
		return false
	}
	if n.value != o.value || len(n.children) != len(o.children) {
		return false
	}
	if !n.Priority().Equal(o.Priority()) {
		return false
	}
	for i := range n.children {
		if n.children[i].Name != o.children[i].Name || !n.children[i].Node.Equal(o.children[i].Node) {
			return false
		}
	}
	return true
}

// NewChildren builds a children node. Input order does not matter; empty
// children are dropped and later duplicates win.
func NewChildren(children []NamedNode) *Node {
	kept := make([]NamedNode, 0, len(children))
	for _, c := range children {
		if c.Node != nil && !c.Node.IsEmpty() {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return empty
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return CompareNames(kept[i].Name, kept[j].Name) < 0
	})
	out := kept[:0]
	for _, c := range kept {
		if len(out) > 0 && out[len(out)-1].Name == c.Name {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}
	return &Node{children: out}
}
