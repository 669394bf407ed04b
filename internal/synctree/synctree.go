package synctree

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/treesync/internal/index"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/view"
)

// ListenProvider starts and stops remote listens on behalf of the tree.
// Implementations must not call back into the tree synchronously; data for
// a listen arrives later through ApplyServerOverwrite and friends.
type ListenProvider interface {
	StartListening(q query.Query)
	StopListening(q query.Query)
}

// Option configures a SyncTree.
type Option func(*SyncTree)

// WithLogger sets the logger. Operations are logged at Debug.
func WithLogger(l *slog.Logger) Option {
	return func(s *SyncTree) {
		s.logger = l
	}
}

// WithObserver registers fn to see every operation before it is applied.
func WithObserver(fn func(Operation)) Option {
	return func(s *SyncTree) {
		s.observe = fn
	}
}

// SyncTree routes operations to the views they affect. It owns the write
// log, the known server data and the set of active listens.
//
// SyncTree is not safe for concurrent use; the engine serializes all calls
// through its loop.
type SyncTree struct {
	points   *ImmutableTree[*SyncPoint]
	server   CompoundWrite
	writes   *WriteTree
	listens  map[string]query.Query
	provider ListenProvider
	logger   *slog.Logger
	observe  func(Operation)
}

// New creates an empty tree that listens through provider.
func New(provider ListenProvider, opts ...Option) *SyncTree {
	s := &SyncTree{
		writes:   NewWriteTree(),
		listens:  map[string]query.Query{},
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyUserOverwrite records a local overwrite. Hidden writes (visible
// false) are kept for transactions but do not reach listeners.
func (s *SyncTree) ApplyUserOverwrite(path node.Path, value *node.Node, writeID int64, visible bool) []view.Event {
	op := Operation{Type: OpOverwrite, Source: SourceUser, Path: path, Snap: value, WriteID: writeID}
	s.observed(op)
	s.writes.AddOverwrite(path, value, writeID, visible)
	if !visible {
		return nil
	}
	return s.recomputeAffected(path)
}

// ApplyUserMerge records a local multi-location update. Every affected
// view is recomputed once for the whole merge.
func (s *SyncTree) ApplyUserMerge(path node.Path, changes map[string]*node.Node, writeID int64) []view.Event {
	op := Operation{Type: OpMerge, Source: SourceUser, Path: path, Children: changes, WriteID: writeID}
	s.observed(op)
	s.writes.AddMerge(path, changes, writeID)
	return s.recomputeAffected(path)
}

// ApplyServerOverwrite stores complete server data for path.
func (s *SyncTree) ApplyServerOverwrite(path node.Path, value *node.Node) []view.Event {
	s.observed(Operation{Type: OpOverwrite, Source: SourceServer, Path: path, Snap: value})
	s.server = s.server.AddWrite(path, value)
	return s.recomputeAffected(path)
}

// ApplyServerMerge stores complete server data for each changed child.
func (s *SyncTree) ApplyServerMerge(path node.Path, changes map[string]*node.Node) []view.Event {
	s.observed(Operation{Type: OpMerge, Source: SourceServer, Path: path, Children: changes})
	s.server = s.server.AddWrites(path, changes)
	return s.recomputeAffected(path)
}

// ApplyListenComplete marks what is known at path as the complete server
// data for it.
func (s *SyncTree) ApplyListenComplete(path node.Path) []view.Event {
	s.observed(Operation{Type: OpListenComplete, Source: SourceServer, Path: path})
	defer s.warnUnindexed(path)
	if s.server.HasCompleteWrite(path) {
		return nil
	}
	s.server = s.server.AddWrite(path, s.server.ChildCompoundWrite(path).Apply(node.Empty()))
	return s.recomputeAffected(path)
}

// warnUnindexed logs the views at or below path whose index is missing on
// some of the server's children. Those children sort first and collect in
// the lower limit window.
func (s *SyncTree) warnUnindexed(path node.Path) {
	s.points.Subtree(path).Foreach(func(rel node.Path, sp *SyncPoint) {
		if sp == nil {
			return
		}
		at := path.Join(rel)
		server := s.ServerCache(at)
		if !server.Complete {
			return
		}
		for _, v := range sp.Views() {
			idx := v.Query().Params().Index()
			if idx.Kind() == index.KindKey {
				continue
			}
			missing := 0
			server.Node.ForEachChild(func(c node.NamedNode) bool {
				if !idx.IsDefinedOn(c.Node) {
					missing++
				}
				return true
			})
			if missing > 0 {
				s.logger.Warn("query index not defined on all children",
					"path", at.String(), "index", idx.String(),
					"missing", missing, "children", server.Node.NumChildren())
			}
		}
	})
}

// AckUserWrite removes a pending write. With revert the write is treated
// as rejected; either way every affected view is recomputed against the
// remaining writes, not by undoing this one.
func (s *SyncTree) AckUserWrite(writeID int64, revert bool) []view.Event {
	w, ok := s.writes.RemoveWrite(writeID)
	if !ok {
		s.logger.Warn("ack for unknown write", "write_id", writeID)
		return nil
	}
	s.observed(Operation{Type: OpAckUserWrite, Source: SourceServer, Path: w.Path, WriteID: writeID, Revert: revert})
	if !w.Visible {
		return nil
	}
	return s.recomputeAffected(w.Path)
}

func (s *SyncTree) observed(op Operation) {
	s.logger.Debug("apply operation", "op", op)
	if s.observe != nil {
		s.observe(op)
	}
}

// CalcCompleteEventCache returns the data at path as server data plus
// every pending write, hidden ones included, except those excluded. It
// returns nil when the data is not known completely.
func (s *SyncTree) CalcCompleteEventCache(path node.Path, exclude ...int64) *node.Node {
	ev := s.writes.CalcCompleteEventCache(path, s.ServerCache(path), exclude)
	if !ev.Complete {
		return nil
	}
	return ev.Node
}

// LayerPendingWrites layers the visible pending writes at path over server
// data obtained elsewhere, such as a one-off fetch.
func (s *SyncTree) LayerPendingWrites(path node.Path, server view.CacheNode) view.CacheNode {
	return s.writes.CalcEventCache(path, server)
}

// ServerCache returns what is known of the server data at path.
func (s *SyncTree) ServerCache(path node.Path) view.CacheNode {
	if n, ok := s.server.CompleteNode(path); ok {
		return view.CacheNode{Node: n, Complete: true}
	}
	return view.CacheNode{Node: s.server.ChildCompoundWrite(path).Apply(node.Empty())}
}

// PendingWrites returns the unacknowledged writes in id order.
func (s *SyncTree) PendingWrites() []UserWrite {
	return s.writes.Writes()
}

// Listens returns the active listens ordered by path then identifier.
func (s *SyncTree) Listens() []query.Query {
	return sortedQueries(s.listens)
}

// SyncPoint returns the sync point at path.
func (s *SyncTree) SyncPoint(path node.Path) (*SyncPoint, bool) {
	sp, ok := s.points.Get(path)
	return sp, ok && sp != nil
}

// AddEventRegistration attaches reg to q and returns the events that bring
// it up to date.
func (s *SyncTree) AddEventRegistration(q query.Query, reg *view.Registration) []view.Event {
	path := q.Path()
	sp, ok := s.SyncPoint(path)
	if !ok {
		sp = newSyncPoint()
		s.points = s.points.Set(path, sp)
	}
	server := s.ServerCache(path)
	events, created := sp.addRegistration(q, reg, server, s.writes.CalcEventCache(path, server))
	if created {
		s.reconcileListens()
	}
	return events
}

// RemoveEventRegistration detaches the registrations of q that match
// selects (all when match is nil). A default query addresses every view at
// its path. With a non-nil cancelErr the removed registrations receive
// cancel events.
func (s *SyncTree) RemoveEventRegistration(q query.Query, match func(*view.Registration) bool, cancelErr error) []view.Event {
	path := q.Path()
	sp, ok := s.SyncPoint(path)
	if !ok {
		return nil
	}
	dropped, events := sp.removeRegistration(q, match, cancelErr)
	if sp.IsEmpty() {
		s.points = s.points.Remove(path)
	}
	if len(dropped) > 0 {
		s.reconcileListens()
	}
	return events
}

// CancelListen removes every registration served by the listen q, which
// failed with err. Each receives a cancel event.
func (s *SyncTree) CancelListen(q query.Query, err error) []view.Event {
	s.logger.Warn("listen cancelled", "path", q.Path().String(), "params", q.Params().Identifier(), "error", err)
	return s.RemoveEventRegistration(q, nil, err)
}

// recomputeAffected refreshes the views at, above and below path.
func (s *SyncTree) recomputeAffected(path node.Path) []view.Event {
	var events []view.Event
	pieces := path.Pieces()
	for i := 0; i <= len(pieces); i++ {
		at := node.NewPath(pieces[:i]...)
		if sp, ok := s.SyncPoint(at); ok {
			events = append(events, s.recomputeAt(at, sp)...)
		}
	}
	s.points.Subtree(path).Foreach(func(rel node.Path, sp *SyncPoint) {
		if !rel.IsEmpty() && sp != nil {
			events = append(events, s.recomputeAt(path.Join(rel), sp)...)
		}
	})
	return events
}

func (s *SyncTree) recomputeAt(path node.Path, sp *SyncPoint) []view.Event {
	server := s.ServerCache(path)
	return sp.recompute(server, s.writes.CalcEventCache(path, server))
}

// desiredListens computes the listens the current views need. A view is
// served by the top-most view at or above it that loads all data; a
// filtered view without one gets a listen of its own.
func (s *SyncTree) desiredListens() map[string]query.Query {
	out := map[string]query.Query{}
	var walk func(at node.Path, t *ImmutableTree[*SyncPoint], covered bool)
	walk = func(at node.Path, t *ImmutableTree[*SyncPoint], covered bool) {
		if t == nil {
			return
		}
		if sp, ok := t.Value(); ok && sp != nil && !covered {
			views := sp.Views()
			if sp.HasCompleteView() {
				q := query.New(views[0].Query().Endpoint(), at)
				out[q.String()] = q
				covered = true
			} else {
				for _, v := range views {
					q := query.WithParams(v.Query().Endpoint(), at, v.Query().Params().ListenParams())
					out[q.String()] = q
				}
			}
		}
		for _, k := range t.ChildKeys() {
			walk(at.Child(k), t.Child(k), covered)
		}
	}
	walk(node.Root(), s.points, false)
	return out
}

// reconcileListens starts and stops remote listens to match the views.
// Locations no longer under any listen forget their server data.
func (s *SyncTree) reconcileListens() {
	desired := s.desiredListens()
	var started, stopped []query.Query
	for _, q := range sortedQueries(s.listens) {
		if _, ok := desired[q.String()]; !ok {
			stopped = append(stopped, q)
		}
	}
	for _, q := range sortedQueries(desired) {
		if _, ok := s.listens[q.String()]; !ok {
			started = append(started, q)
		}
	}
	s.listens = desired

	for _, q := range stopped {
		s.logger.Debug("stop listening", "query", q.String())
		s.provider.StopListening(q)
	}
	for _, q := range started {
		s.logger.Debug("start listening", "query", q.String())
		s.provider.StartListening(q)
	}
	for _, q := range stopped {
		s.forget(q.Path())
	}
}

// forget drops the server data at path unless a listen at or above it
// still keeps it current. Data under listens below path is kept.
func (s *SyncTree) forget(path node.Path) {
	var below []node.Path
	for _, q := range s.listens {
		switch {
		case q.Path().Contains(path):
			return
		case path.Contains(q.Path()):
			below = append(below, q.Path())
		}
	}
	kept := make(map[string]*node.Node, len(below))
	for _, p := range below {
		if n, ok := s.server.CompleteNode(p); ok {
			kept[node.Relative(path, p).String()] = n
		}
	}
	s.server = s.server.RemoveWrite(path).AddWrites(path, kept)
}

func sortedQueries(m map[string]query.Query) []query.Query {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]query.Query, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
