package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/treesync/internal/metrics"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/synctree"
	"github.com/roach88/treesync/internal/view"
)

// Engine is the client-side sync engine for one endpoint.
//
// CRITICAL: all sync tree access happens in tasks run by a single loop
// goroutine (Run) or by the caller of Drain. Public methods validate their
// arguments synchronously, then enqueue a task and return.
//
// Thread-safety model:
//   - On, Off, Once, Get, Set, Update, Transaction, ...: safe from any goroutine
//   - Run or Drain: must be called from exactly one goroutine at a time
//   - listener callbacks: run on the loop goroutine; work they start runs
//     in a later task
type Engine struct {
	endpoint   string
	ds         remote.DataSource
	tree       *synctree.SyncTree
	queue      *taskQueue
	clock      *Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cache      Cache
	pushIDs    PushIDGenerator
	maxRetries int

	regIDs atomic.Uint64

	// Loop-owned state below; touched only inside tasks.
	batch      []view.Event
	regQueries map[*view.Registration]query.Query
	internal   map[*view.Registration]bool
	listens    map[string]*activeListen
	txQueues   map[string][]*transaction
	connected  bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithCache persists pending writes and server data in c.
func WithCache(c Cache) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithPushIDGenerator sets the key generator used by Push.
// Default: UUIDv7Generator.
func WithPushIDGenerator(g PushIDGenerator) EngineOption {
	return func(e *Engine) {
		e.pushIDs = g
	}
}

// WithMaxTransactionRetries bounds transaction reruns.
//
// Default: 25 (DefaultMaxTransactionRetries).
// Use WithMaxTransactionRetries(1) in tests of retry exhaustion.
func WithMaxTransactionRetries(n int) EngineOption {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// New creates an engine for endpoint backed by ds.
//
// With a Cache, the writes it still holds are restored and sent again
// before New returns; their acknowledgements arrive as tasks like any
// other.
func New(endpoint string, ds remote.DataSource, opts ...EngineOption) (*Engine, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("engine: endpoint must not be empty")
	}
	if ds == nil {
		return nil, fmt.Errorf("engine: data source must not be nil")
	}

	e := &Engine{
		endpoint:   endpoint,
		ds:         ds,
		queue:      newTaskQueue(),
		clock:      NewClock(),
		logger:     slog.Default(),
		pushIDs:    UUIDv7Generator{},
		maxRetries: DefaultMaxTransactionRetries,
		regQueries: map[*view.Registration]query.Query{},
		internal:   map[*view.Registration]bool{},
		listens:    map[string]*activeListen{},
		txQueues:   map[string][]*transaction{},
		connected:  true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxRetries < 0 {
		return nil, fmt.Errorf("engine: max transaction retries must not be negative, got %d", e.maxRetries)
	}

	e.tree = synctree.New(listenProvider{e: e},
		synctree.WithLogger(e.logger),
		synctree.WithObserver(e.observe),
	)

	ds.SetConnectionHandlers(e.onConnect, e.onDisconnect)

	if err := e.restorePendingWrites(context.Background()); err != nil {
		return nil, fmt.Errorf("restore pending writes: %w", err)
	}
	return e, nil
}

// Endpoint returns the endpoint the engine serves.
func (e *Engine) Endpoint() string {
	return e.endpoint
}

// Ref returns the default query at path.
func (e *Engine) Ref(path string) (query.Query, error) {
	if err := node.ValidatePathString(path, false); err != nil {
		return query.Query{}, invalid("Engine.Ref", err)
	}
	return query.New(e.endpoint, node.ParsePath(path)), nil
}

// Run starts the loop. Blocks until ctx is cancelled or Close is called
// and the queue has drained.
//
// CRITICAL: Must be called from exactly ONE goroutine, and never together
// with Drain.
//
// ERROR HANDLING: a failing task is logged with its name and the loop
// continues. Later tasks still see a consistent tree, since a task only
// fails on collaborators (the cache) after its tree changes are applied.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "endpoint", e.endpoint)

	for {
		t, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, t)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue; an empty closed
			// queue ends the loop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain runs queued tasks on the caller's goroutine until the queue is
// empty, including tasks enqueued while draining. Tests use it in place of
// Run for deterministic interleavings.
func (e *Engine) Drain(ctx context.Context) {
	for {
		t, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		e.process(ctx, t)
	}
}

// Close stops accepting work. Tasks already queued still run; calls made
// afterwards fail with ENGINE_CLOSED.
func (e *Engine) Close() {
	e.queue.Close()
}

// process runs one task and delivers the batch of events it produced.
// CRITICAL: Called only from the loop goroutine.
func (e *Engine) process(ctx context.Context, t task) {
	e.logger.Debug("processing task", "task", t.name)
	if err := t.fn(ctx); err != nil {
		logTaskError(e.logger, t, err)
	}
	e.dispatch()
}

// enqueue schedules fn. It reports false once the engine is closed.
func (e *Engine) enqueue(name string, fn func(ctx context.Context) error) bool {
	if !e.queue.Enqueue(task{name: name, fn: fn}) {
		e.logger.Debug("dropping task: engine closed", "task", name)
		return false
	}
	return true
}

// submit is enqueue for public calls: a closed engine is an error.
func (e *Engine) submit(name string, fn func(ctx context.Context) error) error {
	if !e.enqueue(name, fn) {
		return errClosed()
	}
	return nil
}

func (e *Engine) emit(events []view.Event) {
	e.batch = append(e.batch, events...)
}

func (e *Engine) observe(op synctree.Operation) {
	e.metrics.RecordOperation(string(op.Type), string(op.Source))
}

func (e *Engine) checkEndpoint(op string, q query.Query) error {
	if q.Endpoint() != e.endpoint {
		return &Error{
			Code:    CodeWrongEndpoint,
			Message: fmt.Sprintf("%s: query for %q used with engine for %q", op, q.Endpoint(), e.endpoint),
			Path:    q.Path().String(),
		}
	}
	return nil
}

func (e *Engine) onConnect() {
	e.enqueue("connection.up", func(ctx context.Context) error {
		e.logger.Info("connected", "endpoint", e.endpoint)
		e.connected = true
		e.resumeTransactions()
		return nil
	})
}

func (e *Engine) onDisconnect() {
	e.enqueue("connection.down", func(ctx context.Context) error {
		e.logger.Warn("disconnected", "endpoint", e.endpoint)
		e.connected = false
		return nil
	})
}

// restorePendingWrites layers the cached writes back into the tree and
// sends them again. Runs before the loop starts.
func (e *Engine) restorePendingWrites(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	writes, err := e.cache.PendingWrites(ctx)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	e.clock = NewClockAt(writes[len(writes)-1].WriteID)
	for _, w := range writes {
		e.logger.Info("restoring pending write", "write_id", w.WriteID, "path", w.Path.String())
		if w.IsMerge() {
			e.emit(e.tree.ApplyUserMerge(w.Path, w.Children, w.WriteID))
			e.sendMerge(w.WriteID, w.Path, w.Children, nil)
		} else {
			e.emit(e.tree.ApplyUserOverwrite(w.Path, w.Snap, w.WriteID, true))
			e.sendPut(w.WriteID, w.Path, w.Snap, nil)
		}
	}
	e.batch = nil
	e.metrics.UpdatePendingWrites(len(writes))
	return nil
}

// logTaskError logs a failed task with full context.
func logTaskError(logger *slog.Logger, t task, err error) {
	attrs := []any{
		"task", t.name,
		"error", err,
	}
	var se *remote.StatusError
	if errors.As(err, &se) {
		attrs = append(attrs, "code", se.Code)
	}
	logger.Error("task processing failed", attrs...)
}

func invalid(op string, err error) error {
	return &query.ValidationError{Op: op, Message: err.Error()}
}
