package engine

import (
	"context"
	"fmt"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/view"
)

// Callback receives a listener event. prevName is the key of the sibling
// before the child in query order ("" for the first child, and always ""
// for value and child_removed events).
type Callback func(snap view.Snapshot, prevName string)

// Listener is the handle returned by On. Pass it to Off to unregister.
type Listener struct {
	q   query.Query
	reg *view.Registration
}

// Query returns the query the listener is attached to.
func (l *Listener) Query() query.Query { return l.q }

// EventType returns the event type the listener receives.
func (l *Listener) EventType() view.EventType { return l.reg.Type() }

// ListenOption configures On.
type ListenOption func(*listenConfig)

type listenConfig struct {
	cancel func(error)
}

// WithCancel sets the callback run when the server revokes the listen.
// The listener is removed before it runs.
func WithCancel(fn func(error)) ListenOption {
	return func(c *listenConfig) {
		c.cancel = fn
	}
}

// On registers cb for events of eventType at q. The listener first
// receives the events describing the data already known, in the batch of
// the task that registers it.
func (e *Engine) On(q query.Query, eventType view.EventType, cb Callback, opts ...ListenOption) (*Listener, error) {
	if err := e.checkEndpoint("Engine.On", q); err != nil {
		return nil, err
	}
	if _, ok := view.ParseEventType(string(eventType)); !ok {
		return nil, invalid("Engine.On", fmt.Errorf("unknown event type %q", eventType))
	}
	if cb == nil {
		return nil, invalid("Engine.On", fmt.Errorf("callback must not be nil"))
	}
	var cfg listenConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := view.NewRegistration(e.regIDs.Add(1), eventType, func(ev view.Event) {
		cb(ev.Snapshot, ev.PrevName)
	}, cfg.cancel)
	if err := e.submit("listen.on", func(ctx context.Context) error {
		e.addRegistration(q, reg, false)
		return nil
	}); err != nil {
		return nil, err
	}
	return &Listener{q: q, reg: reg}, nil
}

// Off unregisters listeners at q. An empty eventType matches every type
// and a nil listener matches every listener; a default query at a path
// addresses all queries at that path. Events already batched for the
// listener are still delivered.
func (e *Engine) Off(q query.Query, eventType view.EventType, l *Listener) error {
	if err := e.checkEndpoint("Engine.Off", q); err != nil {
		return err
	}
	if eventType != "" {
		if _, ok := view.ParseEventType(string(eventType)); !ok {
			return invalid("Engine.Off", fmt.Errorf("unknown event type %q", eventType))
		}
	}
	return e.submit("listen.off", func(ctx context.Context) error {
		e.emit(e.tree.RemoveEventRegistration(q, func(r *view.Registration) bool {
			if e.internal[r] {
				return false
			}
			if l != nil && r != l.reg {
				return false
			}
			return eventType == "" || r.Type() == eventType
		}, nil))
		return nil
	})
}

// Once resolves with the first event of eventType at q. A value Once
// resolves as soon as the data at q is complete.
func (e *Engine) Once(q query.Query, eventType view.EventType) (*Future[view.Snapshot], error) {
	if err := e.checkEndpoint("Engine.Once", q); err != nil {
		return nil, err
	}
	if _, ok := view.ParseEventType(string(eventType)); !ok {
		return nil, invalid("Engine.Once", fmt.Errorf("unknown event type %q", eventType))
	}

	f := newFuture[view.Snapshot]()
	reg := view.NewOnceRegistration(e.regIDs.Add(1), eventType,
		func(ev view.Event) { f.resolve(ev.Snapshot) },
		func(err error) { f.reject(err) },
	)
	if err := e.submit("listen.once", func(ctx context.Context) error {
		e.addRegistration(q, reg, false)
		return nil
	}); err != nil {
		return nil, err
	}
	return f, nil
}

// Get resolves with the current data at q. Complete local data answers at
// once; otherwise the server is asked and the pending writes are layered
// over its answer when it arrives.
func (e *Engine) Get(q query.Query) (*Future[view.Snapshot], error) {
	if err := e.checkEndpoint("Engine.Get", q); err != nil {
		return nil, err
	}
	f := newFuture[view.Snapshot]()
	if err := e.submit("get", func(ctx context.Context) error {
		path := q.Path()
		server := e.tree.ServerCache(path)
		if server.Complete {
			f.resolve(e.snapshot(q, server))
			return nil
		}
		e.ds.Get(path, q.Params(), func(n *node.Node, err error) {
			e.enqueue("get.response", func(ctx context.Context) error {
				e.getResponse(q, n, err, f)
				return nil
			})
		})
		return nil
	}); err != nil {
		return nil, err
	}
	return f, nil
}

func (e *Engine) getResponse(q query.Query, n *node.Node, err error, f *Future[view.Snapshot]) {
	path := q.Path()
	if err == nil {
		f.resolve(e.snapshot(q, view.CacheNode{Node: n, Complete: true}))
		return
	}

	e.metrics.RecordRemoteError("get", remote.Status(err))
	local := e.tree.LayerPendingWrites(path, e.tree.ServerCache(path))
	switch {
	case local.Complete:
		e.logger.Debug("get served from local data", "path", path.String(), "error", err)
		f.resolve(e.snapshotOf(q, local))
	case remote.IsDisconnected(err):
		f.reject(&Error{Code: CodeClientOffline, Message: "client is offline and the data is not cached", Path: path.String(), Err: err})
	default:
		f.reject(fmt.Errorf("get %s: %w", path, err))
	}
}

// snapshot layers pending writes over server data at q and applies q's
// filter.
func (e *Engine) snapshot(q query.Query, server view.CacheNode) view.Snapshot {
	return e.snapshotOf(q, e.tree.LayerPendingWrites(q.Path(), server))
}

func (e *Engine) snapshotOf(q query.Query, ev view.CacheNode) view.Snapshot {
	v := view.New(q, ev, ev)
	return view.NewSnapshot(q.Key(), v.Cache().Event.Node, q.Params().Index())
}

// addRegistration attaches reg inside a task.
func (e *Engine) addRegistration(q query.Query, reg *view.Registration, internal bool) {
	e.regQueries[reg] = q
	if internal {
		e.internal[reg] = true
	}
	e.emit(e.tree.AddEventRegistration(q, reg))
}

// activeListen is one remote listen the tree asked for. Callbacks for a
// listen that has been stopped are ignored.
type activeListen struct {
	q query.Query
}

// listenProvider adapts the engine to synctree.ListenProvider. The tree
// calls it from inside tasks; data for the listen comes back as new tasks.
type listenProvider struct {
	e *Engine
}

func (p listenProvider) StartListening(q query.Query) {
	e := p.e
	l := &activeListen{q: q}
	key := q.String()
	e.listens[key] = l
	e.metrics.UpdateActiveListens(len(e.listens))
	e.logger.Debug("listen", "query", key)

	path := q.Path()
	if e.cache != nil && q.Params().IsDefault() {
		e.enqueue("listen.seed", func(ctx context.Context) error {
			return e.seedFromCache(ctx, l)
		})
	}

	e.ds.Listen(path, q.Params(), remote.ListenCallbacks{
		OnInitialData: func(n *node.Node) {
			e.enqueue("listen.initial", func(ctx context.Context) error {
				if !e.listenActive(l) {
					return nil
				}
				e.emit(e.tree.ApplyServerOverwrite(path, n))
				e.emit(e.tree.ApplyListenComplete(path))
				return e.persistServerData(ctx, l)
			})
		},
		OnUpdate: func(u remote.Update) {
			e.enqueue("listen.update", func(ctx context.Context) error {
				if !e.listenActive(l) {
					return nil
				}
				if u.IsMerge() {
					e.emit(e.tree.ApplyServerMerge(u.Path, u.Children))
				} else {
					e.emit(e.tree.ApplyServerOverwrite(u.Path, u.Snap))
				}
				return e.persistServerData(ctx, l)
			})
		},
		OnError: func(err error) {
			e.enqueue("listen.error", func(ctx context.Context) error {
				if !e.listenActive(l) {
					return nil
				}
				e.metrics.RecordRemoteError("listen", remote.Status(err))
				e.emit(e.tree.CancelListen(q, err))
				return nil
			})
		},
	})
}

func (p listenProvider) StopListening(q query.Query) {
	e := p.e
	key := q.String()
	delete(e.listens, key)
	e.metrics.UpdateActiveListens(len(e.listens))
	e.logger.Debug("unlisten", "query", key)
	e.ds.Unlisten(q.Path(), q.Params())
}

func (e *Engine) listenActive(l *activeListen) bool {
	return e.listens[l.q.String()] == l
}

// seedFromCache shows the last persisted server data while the server's
// answer is on its way. The server's initial data replaces it.
func (e *Engine) seedFromCache(ctx context.Context, l *activeListen) error {
	if !e.listenActive(l) {
		return nil
	}
	path := l.q.Path()
	if e.tree.ServerCache(path).Complete {
		return nil
	}
	n, ok, err := e.cache.LoadServerData(ctx, path)
	if err != nil {
		return fmt.Errorf("load cached server data at %s: %w", path, err)
	}
	if !ok {
		return nil
	}
	e.logger.Debug("seeding listen from cache", "path", path.String())
	e.emit(e.tree.ApplyServerOverwrite(path, n))
	return nil
}

func (e *Engine) persistServerData(ctx context.Context, l *activeListen) error {
	if e.cache == nil || !l.q.Params().IsDefault() {
		return nil
	}
	path := l.q.Path()
	server := e.tree.ServerCache(path)
	if !server.Complete {
		return nil
	}
	if err := e.cache.SaveServerData(ctx, path, server.Node); err != nil {
		return fmt.Errorf("save server data at %s: %w", path, err)
	}
	return nil
}
