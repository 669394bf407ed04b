package synctree

import (
	"maps"
	"slices"

	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/view"
)

// SyncPoint holds the views active at one path, keyed by query identifier.
type SyncPoint struct {
	views map[string]*view.View
}

func newSyncPoint() *SyncPoint {
	return &SyncPoint{views: map[string]*view.View{}}
}

// IsEmpty reports whether no view remains.
func (sp *SyncPoint) IsEmpty() bool {
	return len(sp.views) == 0
}

// Views returns the views ordered by query identifier.
func (sp *SyncPoint) Views() []*view.View {
	ids := slices.Sorted(maps.Keys(sp.views))
	out := make([]*view.View, 0, len(ids))
	for _, id := range ids {
		out = append(out, sp.views[id])
	}
	return out
}

// View returns the view for q, if any.
func (sp *SyncPoint) View(q query.Query) (*view.View, bool) {
	v, ok := sp.views[q.Params().Identifier()]
	return v, ok
}

// HasCompleteView reports whether a view here loads all data.
func (sp *SyncPoint) HasCompleteView() bool {
	for _, v := range sp.views {
		if v.LoadsAllData() {
			return true
		}
	}
	return false
}

// recompute refreshes every view from the raw caches at the sync point's
// path. Each view is recomputed once.
func (sp *SyncPoint) recompute(server, event view.CacheNode) []view.Event {
	var events []view.Event
	for _, v := range sp.Views() {
		events = append(events, v.Recompute(server, event)...)
	}
	return events
}

// addRegistration attaches reg to q's view, creating the view from the
// given caches when needed. It reports whether a view was created.
func (sp *SyncPoint) addRegistration(q query.Query, reg *view.Registration, server, event view.CacheNode) ([]view.Event, bool) {
	id := q.Params().Identifier()
	v, ok := sp.views[id]
	if !ok {
		v = view.New(q, server, event)
		sp.views[id] = v
	}
	return v.AddRegistration(reg), !ok
}

// removeRegistration detaches matching registrations from q's view. A
// default query addresses every view at the path. Views left without
// registrations are dropped and returned.
func (sp *SyncPoint) removeRegistration(q query.Query, match func(*view.Registration) bool, cancelErr error) ([]query.Query, []view.Event) {
	var targets []*view.View
	if q.Params().IsDefault() {
		targets = sp.Views()
	} else if v, ok := sp.View(q); ok {
		targets = []*view.View{v}
	}

	var (
		dropped []query.Query
		events  []view.Event
	)
	for _, v := range targets {
		_, evs := v.RemoveRegistration(match, cancelErr)
		events = append(events, evs...)
		if v.IsEmpty() {
			delete(sp.views, v.Query().Params().Identifier())
			dropped = append(dropped, v.Query())
		}
	}
	return dropped, events
}
