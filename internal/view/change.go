package view

import (
	"github.com/roach88/treesync/internal/index"
	"github.com/roach88/treesync/internal/node"
)

// Change is one child-level difference between two materializations.
type Change struct {
	Type     EventType
	Name     string
	Node     *node.Node
	OldNode  *node.Node
	PrevName string
}

// diffChildren returns the child changes that turn old into updated, both
// already filtered. The result is grouped as removals in old order, then
// moves and changes interleaved in updated order, then additions.
//
// A child moves only when its indexed value changed and its previous
// sibling differs from before. A child whose neighbours moved around it but
// which keeps the same previous sibling gets child_changed alone.
func diffChildren(idx index.Index, old, updated *node.Node) []Change {
	if old == updated {
		return nil
	}
	oldSorted := idx.SortedChildren(old)
	newSorted := idx.SortedChildren(updated)

	oldPrev := make(map[string]string, len(oldSorted))
	for i, c := range oldSorted {
		if i > 0 {
			oldPrev[c.Name] = oldSorted[i-1].Name
		} else {
			oldPrev[c.Name] = ""
		}
	}

	var removed, changed, added []Change
	for _, c := range oldSorted {
		if !updated.HasChild(c.Name) {
			removed = append(removed, Change{Type: EventChildRemoved, Name: c.Name, Node: c.Node, OldNode: c.Node})
		}
	}
	for i, c := range newSorted {
		prev := ""
		if i > 0 {
			prev = newSorted[i-1].Name
		}
		if !old.HasChild(c.Name) {
			added = append(added, Change{Type: EventChildAdded, Name: c.Name, Node: c.Node, PrevName: prev})
			continue
		}
		was := old.ImmediateChild(c.Name)
		if was.Equal(c.Node) {
			continue
		}
		if idx.IndexedValueChanged(was, c.Node) && oldPrev[c.Name] != prev {
			changed = append(changed, Change{Type: EventChildMoved, Name: c.Name, Node: c.Node, OldNode: was, PrevName: prev})
		}
		changed = append(changed, Change{Type: EventChildChanged, Name: c.Name, Node: c.Node, OldNode: was, PrevName: prev})
	}

	out := make([]Change, 0, len(removed)+len(changed)+len(added))
	out = append(out, removed...)
	out = append(out, changed...)
	return append(out, added...)
}
