package view

import (
	"slices"

	"github.com/roach88/treesync/internal/index"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
)

// CacheNode is a node plus whether it is the complete data for its
// location. An incomplete node holds only the subtrees known so far.
type CacheNode struct {
	Node     *node.Node
	Complete bool
}

func (c CacheNode) orEmpty() CacheNode {
	if c.Node == nil {
		c.Node = node.Empty()
	}
	return c
}

// Cache holds a view's two projections, both filtered by the view's query:
// what the server has confirmed, and what listeners see (server data with
// pending writes layered on top).
type Cache struct {
	Server CacheNode
	Event  CacheNode
}

// Equal reports whether two caches hold the same data and completeness.
func (c Cache) Equal(o Cache) bool {
	return c.Server.Complete == o.Server.Complete &&
		c.Event.Complete == o.Event.Complete &&
		c.Server.Node.Equal(o.Server.Node) &&
		c.Event.Node.Equal(o.Event.Node)
}

// View is the materialized result of one query. It is owned by a sync
// point and only touched from the engine loop.
type View struct {
	q     query.Query
	f     filter
	cache Cache
	regs  []*Registration
}

// New creates a view from raw (unfiltered) server and event data at the
// query's location.
func New(q query.Query, server, event CacheNode) *View {
	v := &View{q: q, f: newFilter(q.Params())}
	v.cache = Cache{
		Server: v.materialize(server),
		Event:  v.materialize(event),
	}
	return v
}

func (v *View) materialize(c CacheNode) CacheNode {
	c = c.orEmpty()
	return CacheNode{Node: v.f.materialize(c.Node), Complete: c.Complete}
}

// Query returns the view's query.
func (v *View) Query() query.Query { return v.q }

// Cache returns the current projections.
func (v *View) Cache() Cache { return v.cache }

// LoadsAllData reports whether the view sees its whole location.
func (v *View) LoadsAllData() bool { return v.f.loadsAll }

// IsEmpty reports whether no registration remains.
func (v *View) IsEmpty() bool { return len(v.regs) == 0 }

// Registrations returns the attached registrations in attach order.
func (v *View) Registrations() []*Registration {
	return slices.Clone(v.regs)
}

// Recompute replaces both projections with freshly filtered versions of
// the raw data and returns the events the change implies, in delivery
// order. One call yields at most one value event per registration.
func (v *View) Recompute(server, event CacheNode) []Event {
	old := v.cache.Event
	v.cache = Cache{
		Server: v.materialize(server),
		Event:  v.materialize(event),
	}
	return v.generate(old, v.cache.Event, v.regs)
}

// AddRegistration attaches reg and returns the events that bring it up to
// date: child_added for every known child and, once the data is complete,
// value.
func (v *View) AddRegistration(reg *Registration) []Event {
	v.regs = append(v.regs, reg)
	return v.generate(CacheNode{Node: node.Empty()}, v.cache.Event, []*Registration{reg})
}

// RemoveRegistration detaches the registrations match selects, or all of
// them when match is nil. With a non-nil cancelErr each removed
// registration receives a cancel event.
func (v *View) RemoveRegistration(match func(*Registration) bool, cancelErr error) ([]*Registration, []Event) {
	var removed []*Registration
	kept := v.regs[:0]
	for _, r := range v.regs {
		if match == nil || match(r) {
			r.removed = true
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	clear(v.regs[len(kept):])
	v.regs = kept

	if cancelErr == nil {
		return removed, nil
	}
	events := make([]Event, 0, len(removed))
	for _, r := range removed {
		events = append(events, Event{Path: v.q.Path(), Err: cancelErr, Registration: r})
	}
	return removed, events
}

func (v *View) generate(old, updated CacheNode, regs []*Registration) []Event {
	if len(regs) == 0 {
		return nil
	}
	idx := v.f.idx
	var events []Event
	for _, ch := range diffChildren(idx, old.Node, updated.Node) {
		snap := NewSnapshot(ch.Name, ch.Node, index.Key)
		for _, r := range regs {
			if r.RespondsTo(ch.Type) {
				events = append(events, Event{
					Type:         ch.Type,
					Path:         v.q.Path().Child(ch.Name),
					Snapshot:     snap,
					PrevName:     ch.PrevName,
					Registration: r,
				})
			}
		}
	}

	if updated.Complete && (!old.Complete || !old.Node.Equal(updated.Node)) {
		snap := NewSnapshot(v.q.Key(), updated.Node, idx)
		for _, r := range regs {
			if r.RespondsTo(EventValue) {
				events = append(events, Event{Type: EventValue, Path: v.q.Path(), Snapshot: snap, Registration: r})
			}
		}
	}
	return events
}
