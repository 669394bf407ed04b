package index

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/treesync/internal/node"
)

// Kind enumerates the closed set of orderings.
type Kind int

const (
	// KindKey orders children by key.
	KindKey Kind = iota + 1
	// KindPriority orders children by priority, then key.
	KindPriority
	// KindValue orders leaf children by value, then key.
	KindValue
	// KindPath orders children by the value at a child path, then key.
	KindPath
)

// Wire names of the built-in indexes.
const (
	WireKey      = ".key"
	WirePriority = ".priority"
	WireValue    = ".value"
)

// Index is a total order over NamedNodes. The zero Index is invalid;
// use Key, Priority, Value or ByChild.
type Index struct {
	kind Kind
	path node.Path // KindPath only
}

var (
	// Key is the default index.
	Key = Index{kind: KindKey}
	// Priority orders by node priority.
	Priority = Index{kind: KindPriority}
	// Value orders by node value.
	Value = Index{kind: KindValue}
)

// ByChild orders children by the value found at path below each child.
func ByChild(path node.Path) Index {
	if path.IsEmpty() {
		panic("index: ByChild requires a non-empty path")
	}
	return Index{kind: KindPath, path: path}
}

// FromWireName resolves a wire name (".key", ".priority", ".value" or a
// child path) back to an Index.
func FromWireName(name string) (Index, error) {
	switch name {
	case WireKey:
		return Key, nil
	case WirePriority:
		return Priority, nil
	case WireValue:
		return Value, nil
	case "", "/":
		return Index{}, fmt.Errorf("index: empty index name")
	}
	return ByChild(node.ParsePath(name)), nil
}

// Kind returns the variant.
func (i Index) Kind() Kind {
	return i.kind
}

// Path returns the child path of a KindPath index.
func (i Index) Path() node.Path {
	return i.path
}

// Equal reports whether i and o define the same order.
func (i Index) Equal(o Index) bool {
	return i.kind == o.kind && i.path.Equal(o.path)
}

// WireName is the name sent to the server and used in query identifiers.
func (i Index) WireName() string {
	switch i.kind {
	case KindKey:
		return WireKey
	case KindPriority:
		return WirePriority
	case KindValue:
		return WireValue
	case KindPath:
		return strings.TrimPrefix(i.path.String(), "/")
	}
	panic(fmt.Sprintf("index: unknown kind %d", i.kind))
}

func (i Index) String() string {
	return i.WireName()
}

// indexedValue is the node an index sorts by.
func (i Index) indexedValue(n *node.Node) *node.Node {
	switch i.kind {
	case KindKey:
		return node.Empty()
	case KindPriority:
		return n.Priority()
	case KindValue:
		return n
	case KindPath:
		return n.Child(i.path)
	}
	panic(fmt.Sprintf("index: unknown kind %d", i.kind))
}

// Compare orders a and b by indexed value, breaking ties by key.
// Posts built from Max sort after every data node.
func (i Index) Compare(a, b node.NamedNode) int {
	aMax, bMax := a.Node == node.Max(), b.Node == node.Max()
	switch {
	case aMax && bMax:
		return node.CompareNames(a.Name, b.Name)
	case aMax:
		return 1
	case bMax:
		return -1
	}

	if i.kind == KindKey {
		return node.CompareNames(a.Name, b.Name)
	}
	if c := node.Compare(i.indexedValue(a.Node), i.indexedValue(b.Node)); c != 0 {
		return c
	}
	return node.CompareNames(a.Name, b.Name)
}

// IsDefinedOn reports whether n carries a value for i. Children lacking it
// sort first, so a query whose index is undefined on most children is
// usually a mistake worth logging.
func (i Index) IsDefinedOn(n *node.Node) bool {
	switch i.kind {
	case KindKey, KindValue:
		return true
	case KindPriority:
		return !n.Priority().IsEmpty()
	case KindPath:
		return !n.Child(i.path).IsEmpty()
	}
	panic(fmt.Sprintf("index: unknown kind %d", i.kind))
}

// IndexedValueChanged reports whether a child's position under i may have
// changed between old and updated.
func (i Index) IndexedValueChanged(old, updated *node.Node) bool {
	if i.kind == KindKey {
		return false
	}
	return !i.indexedValue(old).Equal(i.indexedValue(updated))
}

// MinPost sorts before every child.
func (i Index) MinPost() node.NamedNode {
	return node.NamedNode{Name: node.MinName, Node: node.Empty()}
}

// MaxPost sorts after every child.
func (i Index) MaxPost() node.NamedNode {
	if i.kind == KindKey {
		return node.NamedNode{Name: node.MaxName, Node: node.Empty()}
	}
	return node.NamedNode{Name: node.MaxName, Node: node.Max()}
}

// MakePost builds the range bound for an index value and tie-break name.
// For the key index the value is the key itself and name is ignored.
func (i Index) MakePost(value *node.Node, name string) node.NamedNode {
	switch i.kind {
	case KindKey:
		key, _ := value.Value().(string)
		return node.NamedNode{Name: key, Node: node.Empty()}
	case KindPriority:
		// The bound is a leaf carrying itself as priority; null stays Empty.
		return node.NamedNode{Name: name, Node: value.UpdatePriority(value)}
	case KindValue:
		return node.NamedNode{Name: name, Node: value}
	case KindPath:
		return node.NamedNode{Name: name, Node: node.Empty().UpdateChild(i.path, value)}
	}
	panic(fmt.Sprintf("index: unknown kind %d", i.kind))
}

// SortedChildren returns n's children in index order.
func (i Index) SortedChildren(n *node.Node) []node.NamedNode {
	children := n.Children()
	if i.kind != KindKey {
		slices.SortFunc(children, i.Compare)
	}
	return children
}

// ValidateBound checks a start/end value against the index at range
// construction time. hasName reports whether a tie-break key was passed.
func (i Index) ValidateBound(value *node.Node, hasName bool) error {
	if !value.IsEmpty() && !value.IsLeaf() {
		return fmt.Errorf("bound must be null, a boolean, a number or a string")
	}
	switch i.kind {
	case KindKey:
		if hasName {
			return fmt.Errorf("when ordering by key, you may only pass one argument")
		}
		if _, ok := value.Value().(string); !ok {
			return fmt.Errorf("when ordering by key, the argument must be a string")
		}
	case KindPriority:
		if err := node.ValidatePriority(value); err != nil {
			return fmt.Errorf("when ordering by priority, the first argument must be a valid priority (null, a number, or a string)")
		}
	case KindValue, KindPath:
	default:
		panic(fmt.Sprintf("index: unknown kind %d", i.kind))
	}
	return nil
}
