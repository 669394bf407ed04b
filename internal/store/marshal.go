package store

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/treesync/internal/node"
)

// Write kinds stored in pending_writes.kind.
const (
	kindOverwrite = "overwrite"
	kindMerge     = "merge"
)

// marshalNode converts a node to canonical JSON TEXT for storage.
// Priorities are kept, so the node round-trips exactly.
func marshalNode(n *node.Node) (string, error) {
	data, err := node.MarshalCanonical(n.ExportVal())
	if err != nil {
		return "", fmt.Errorf("marshal node: %w", err)
	}
	return string(data), nil
}

// marshalChildren converts a merge's changes to a canonical JSON object
// keyed by relative path.
func marshalChildren(children map[string]*node.Node) (string, error) {
	obj := make(map[string]any, len(children))
	for k, c := range children {
		obj[k] = c.ExportVal()
	}
	data, err := node.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal children: %w", err)
	}
	return string(data), nil
}

func unmarshalNode(data string) (*node.Node, error) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}
	n, err := node.FromValue(v)
	if err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}
	return n, nil
}

// unmarshalChildren never returns a nil map: a merge with no changes is
// still a merge.
func unmarshalChildren(data string) (map[string]*node.Node, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal children: %w", err)
	}
	return childrenFromValues(obj)
}

func childrenFromValues(obj map[string]any) (map[string]*node.Node, error) {
	out := make(map[string]*node.Node, len(obj))
	for k, v := range obj {
		n, err := node.FromValue(v)
		if err != nil {
			return nil, fmt.Errorf("child %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// lineage returns the root, every ancestor of path, then path itself.
func lineage(path node.Path) []node.Path {
	pieces := path.Pieces()
	out := make([]node.Path, 0, len(pieces)+1)
	for i := 0; i <= len(pieces); i++ {
		out = append(out, node.NewPath(slices.Clone(pieces[:i])...))
	}
	return out
}

// subtreePrefix is the key prefix shared by every location below path.
func subtreePrefix(path node.Path) string {
	if path.IsEmpty() {
		return "/"
	}
	return path.String() + "/"
}
