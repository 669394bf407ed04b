package remote

import (
	"slices"
	"sync"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
)

// Loopback is an in-memory authoritative store that serves any number of
// Conns. It is safe for concurrent use.
//
// Callbacks run under a delivery lock, so every Conn observes changes in
// the order they were applied. A callback must not call into the Loopback
// or its Conns; hand the data to another goroutine instead.
type Loopback struct {
	mu      sync.Mutex
	deliver sync.Mutex

	root   *node.Node
	conns  []*Conn
	denied []node.Path

	beforeWrite func(path node.Path)
	paused      bool
	held        []func()
}

// NewLoopback returns an empty store.
func NewLoopback() *Loopback {
	return &Loopback{root: node.Empty()}
}

// Conn opens a new connected client.
func (l *Loopback) Conn() *Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &Conn{server: l, connected: true, listens: map[string]*listen{}}
	l.conns = append(l.conns, c)
	return c
}

// Value returns the stored data at path.
func (l *Loopback) Value(path node.Path) *node.Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root.Child(path)
}

// Set overwrites path as an external writer would and notifies listens.
func (l *Loopback) Set(path node.Path, value *node.Node) {
	l.mu.Lock()
	deliveries := l.applyLocked(path, value, nil)
	l.flush(deliveries)
}

// Update merges changes under path as an external writer would.
func (l *Loopback) Update(path node.Path, changes map[string]*node.Node) {
	l.mu.Lock()
	deliveries := l.applyLocked(path, nil, changes)
	l.flush(deliveries)
}

// Deny makes every read, listen and write at or below path fail with
// CodePermissionDenied.
func (l *Loopback) Deny(path node.Path) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.denied = append(l.denied, path)
}

// Allow lifts a Deny rule.
func (l *Loopback) Allow(path node.Path) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.denied = slices.DeleteFunc(l.denied, func(p node.Path) bool { return p.Equal(path) })
}

// BeforeWrite installs fn to run before each client write is applied. It
// runs without locks held and may write to the Loopback.
func (l *Loopback) BeforeWrite(fn func(path node.Path)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beforeWrite = fn
}

// PauseWrites holds client writes until ResumeWrites.
func (l *Loopback) PauseWrites() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

// ResumeWrites applies the held writes in arrival order.
func (l *Loopback) ResumeWrites() {
	l.mu.Lock()
	held := l.held
	l.held = nil
	l.paused = false
	l.mu.Unlock()
	for _, w := range held {
		w()
	}
}

// HeldWrites returns the number of writes waiting on ResumeWrites.
func (l *Loopback) HeldWrites() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

func (l *Loopback) deniedLocked(path node.Path) bool {
	for _, p := range l.denied {
		if p.Contains(path) {
			return true
		}
	}
	return false
}

// flush releases the state lock and runs deliveries in order.
func (l *Loopback) flush(deliveries []func()) {
	l.deliver.Lock()
	l.mu.Unlock()
	defer l.deliver.Unlock()
	for _, d := range deliveries {
		d()
	}
}

// applyLocked stores a write and returns the notifications for every
// connected listen that overlaps it.
func (l *Loopback) applyLocked(path node.Path, value *node.Node, changes map[string]*node.Node) []func() {
	if changes != nil {
		for _, k := range sortedKeys(changes) {
			l.root = l.root.UpdateChild(path.Join(node.ParsePath(k)), changes[k])
		}
	} else {
		l.root = l.root.UpdateChild(path, value)
	}

	var out []func()
	for _, c := range l.conns {
		if !c.connected {
			continue
		}
		for _, key := range c.listenKeys() {
			ln := c.listens[key]
			var u Update
			switch {
			case ln.path.Contains(path):
				u = Update{Path: path, Snap: value, Children: cloneChanges(changes)}
				if changes == nil {
					u.Snap = l.root.Child(path)
				}
			case path.Contains(ln.path):
				u = Update{Path: ln.path, Snap: l.root.Child(ln.path)}
			default:
				continue
			}
			cb := ln.cb.OnUpdate
			out = append(out, func() { cb(u) })
		}
	}
	return out
}

// clientWrite runs a write from a Conn through the interceptor, the pause
// gate and the deny rules.
func (l *Loopback) clientWrite(path node.Path, apply func() error, onComplete func(error)) {
	l.mu.Lock()
	fn := l.beforeWrite
	l.mu.Unlock()
	if fn != nil {
		fn(path)
	}

	run := func() {
		err := apply()
		if onComplete != nil {
			l.deliver.Lock()
			onComplete(err)
			l.deliver.Unlock()
		}
	}

	l.mu.Lock()
	if l.paused {
		l.held = append(l.held, run)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	run()
}

func sortedKeys(changes map[string]*node.Node) []string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return node.ComparePaths(node.ParsePath(a), node.ParsePath(b))
	})
	return keys
}

func cloneChanges(changes map[string]*node.Node) map[string]*node.Node {
	if changes == nil {
		return nil
	}
	out := make(map[string]*node.Node, len(changes))
	for k, v := range changes {
		out[k] = v
	}
	return out
}

type listen struct {
	path   node.Path
	params query.Params
	cb     ListenCallbacks
}

// Conn is one client's connection to a Loopback. It implements DataSource.
type Conn struct {
	server *Loopback

	// guarded by server.mu
	connected    bool
	listens      map[string]*listen
	outbox       []func()
	onConnect    func()
	onDisconnect func()
}

var _ DataSource = (*Conn)(nil)

func listenKey(path node.Path, params query.Params) string {
	return path.String() + "|" + params.Identifier()
}

func (c *Conn) listenKeys() []string {
	keys := make([]string, 0, len(c.listens))
	for k := range c.listens {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Listen registers a listen. Initial data arrives at once when connected,
// otherwise on reconnect.
func (c *Conn) Listen(path node.Path, params query.Params, cb ListenCallbacks) {
	l := c.server
	l.mu.Lock()
	if l.deniedLocked(path) {
		l.flush([]func(){func() {
			cb.OnError(&StatusError{Code: CodePermissionDenied, Message: "client doesn't have permission to access the desired data", Path: path.String()})
		}})
		return
	}
	c.listens[listenKey(path, params)] = &listen{path: path, params: params, cb: cb}
	if !c.connected {
		l.mu.Unlock()
		return
	}
	data := l.root.Child(path)
	l.flush([]func(){func() { cb.OnInitialData(data) }})
}

// Unlisten drops a listen.
func (c *Conn) Unlisten(path node.Path, params query.Params) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	delete(c.listens, listenKey(path, params))
}

// Put overwrites path, conditionally when hash is non-empty.
func (c *Conn) Put(path node.Path, value *node.Node, hash string, onComplete func(error)) {
	c.send(path, func() error {
		l := c.server
		l.mu.Lock()
		if l.deniedLocked(path) {
			l.mu.Unlock()
			return &StatusError{Code: CodePermissionDenied, Message: "write rejected", Path: path.String()}
		}
		if hash != "" && l.root.Child(path).Hash() != hash {
			l.mu.Unlock()
			return &StatusError{Code: CodeDataStale, Message: "value changed since it was read", Path: path.String()}
		}
		l.flush(l.applyLocked(path, value, nil))
		return nil
	}, onComplete)
}

// Merge applies a multi-location update below path atomically.
func (c *Conn) Merge(path node.Path, changes map[string]*node.Node, onComplete func(error)) {
	changes = cloneChanges(changes)
	c.send(path, func() error {
		l := c.server
		l.mu.Lock()
		for k := range changes {
			if l.deniedLocked(path.Join(node.ParsePath(k))) {
				l.mu.Unlock()
				return &StatusError{Code: CodePermissionDenied, Message: "write rejected", Path: path.Child(k).String()}
			}
		}
		if changes == nil {
			changes = map[string]*node.Node{}
		}
		l.flush(l.applyLocked(path, nil, changes))
		return nil
	}, onComplete)
}

// send applies a write now, or queues it until reconnect.
func (c *Conn) send(path node.Path, apply func() error, onComplete func(error)) {
	l := c.server
	write := func() { l.clientWrite(path, apply, onComplete) }
	l.mu.Lock()
	if !c.connected {
		c.outbox = append(c.outbox, write)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	write()
}

// Get reads path once.
func (c *Conn) Get(path node.Path, _ query.Params, onComplete func(*node.Node, error)) {
	l := c.server
	l.mu.Lock()
	var (
		data *node.Node
		err  error
	)
	switch {
	case !c.connected:
		err = &StatusError{Code: CodeDisconnected, Message: "client is offline", Path: path.String()}
	case l.deniedLocked(path):
		err = &StatusError{Code: CodePermissionDenied, Message: "client doesn't have permission to access the desired data", Path: path.String()}
	default:
		data = l.root.Child(path)
	}
	l.flush([]func(){func() { onComplete(data, err) }})
}

// SetConnectionHandlers installs the connect and disconnect callbacks.
func (c *Conn) SetConnectionHandlers(onConnect, onDisconnect func()) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.onConnect, c.onDisconnect = onConnect, onDisconnect
}

// Connected reports whether the connection is up.
func (c *Conn) Connected() bool {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.connected
}

// Disconnect simulates losing the connection. Listens stay registered but
// receive nothing; writes queue until Reconnect.
func (c *Conn) Disconnect() {
	l := c.server
	l.mu.Lock()
	if !c.connected {
		l.mu.Unlock()
		return
	}
	c.connected = false
	var out []func()
	if c.onDisconnect != nil {
		out = append(out, c.onDisconnect)
	}
	l.flush(out)
}

// Reconnect restores the connection: listens receive fresh initial data,
// then queued writes are sent in order.
func (c *Conn) Reconnect() {
	l := c.server
	l.mu.Lock()
	if c.connected {
		l.mu.Unlock()
		return
	}
	c.connected = true
	var out []func()
	if c.onConnect != nil {
		out = append(out, c.onConnect)
	}
	for _, key := range c.listenKeys() {
		ln := c.listens[key]
		data := l.root.Child(ln.path)
		cb := ln.cb.OnInitialData
		out = append(out, func() { cb(data) })
	}
	outbox := c.outbox
	c.outbox = nil
	l.flush(out)

	for _, w := range outbox {
		w()
	}
}
