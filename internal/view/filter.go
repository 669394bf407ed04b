package view

import (
	"github.com/roach88/treesync/internal/index"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
)

// filter materializes a raw node into what a query can see.
type filter struct {
	idx       index.Index
	start     node.NamedNode
	end       node.NamedNode
	startIncl bool
	endIncl   bool
	loadsAll  bool
	limited   bool
	limit     int
	fromLeft  bool
}

func newFilter(p query.Params) filter {
	return filter{
		idx:       p.Index(),
		start:     p.StartPost(),
		end:       p.EndPost(),
		startIncl: p.StartInclusive(),
		endIncl:   p.EndInclusive(),
		loadsAll:  p.LoadsAllData(),
		limited:   p.HasLimit(),
		limit:     p.Limit(),
		fromLeft:  p.ViewFromLeft(),
	}
}

// inRange reports whether c lies within the start and end posts.
func (f filter) inRange(c node.NamedNode) bool {
	lo := f.idx.Compare(f.start, c)
	if lo > 0 || (lo == 0 && !f.startIncl) {
		return false
	}
	hi := f.idx.Compare(c, f.end)
	if hi > 0 || (hi == 0 && !f.endIncl) {
		return false
	}
	return true
}

// materialize applies range and limit. Queries that load all data see n
// unchanged; ranged or limited queries see no leaf value and no priority.
//
// Ties in index value are broken by key, so the window, and therefore the
// child evicted when a new one enters, is always deterministic.
func (f filter) materialize(n *node.Node) *node.Node {
	if f.loadsAll {
		return n
	}
	if n.IsLeaf() || n.IsEmpty() {
		return node.Empty()
	}

	sorted := f.idx.SortedChildren(n)
	kept := sorted[:0]
	for _, c := range sorted {
		if f.inRange(c) {
			kept = append(kept, c)
		}
	}
	if f.limited && len(kept) > f.limit {
		if f.fromLeft {
			kept = kept[:f.limit]
		} else {
			kept = kept[len(kept)-f.limit:]
		}
	}
	if len(kept) == n.NumChildren() && n.Priority().IsEmpty() {
		return n
	}
	return node.NewChildren(kept)
}
