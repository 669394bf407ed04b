package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/view"
)

// Endpoint is the endpoint scenarios run against.
const Endpoint = "mem://harness"

// Harness executes one scenario. It owns an engine wired to an in-memory
// server and drains the engine's queue after every step.
type Harness struct {
	lb     *remote.Loopback
	conn   *remote.Conn
	engine *engine.Engine
	logger *slog.Logger
	result *Result

	listeners map[string]*listenerGroup

	// pending holds futures that had not resolved when their step ended,
	// in step order.
	pending []func() bool
}

type listenerGroup struct {
	q         query.Query
	listeners []*engine.Listener
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes engine logs to logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh engine and server. Push keys come from a
// sequential generator, so traces are identical across runs.
//
// Execution flow:
// 1. Seed the server with Scenario.Server
// 2. Run each step, then drain the engine and collect resolved futures
// 3. Evaluate assertions against the trace and the server's final data
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: testutil.DiscardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	lb := remote.NewLoopback()
	if scenario.Server != nil {
		n, err := node.FromValue(scenario.Server)
		if err != nil {
			return nil, fmt.Errorf("invalid server data: %w", err)
		}
		lb.Set(node.Root(), n)
	}

	engineOpts := []engine.EngineOption{
		engine.WithLogger(cfg.logger),
		engine.WithPushIDGenerator(testutil.NewSequentialPushIDs("push")),
	}
	if scenario.MaxRetries != nil {
		engineOpts = append(engineOpts, engine.WithMaxTransactionRetries(*scenario.MaxRetries))
	}

	conn := lb.Conn()
	eng, err := engine.New(Endpoint, conn, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	h := &Harness{
		lb:        lb,
		conn:      conn,
		engine:    eng,
		logger:    cfg.logger,
		result:    NewResult(),
		listeners: make(map[string]*listenerGroup),
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		eng.Drain(ctx)
		h.collect()
	}

	h.result.State = lb.Value(node.Root()).String()

	actx := &AssertionContext{Server: lb}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// collect records futures that have resolved, keeping the rest.
func (h *Harness) collect() {
	waiting := h.pending[:0]
	for _, poll := range h.pending {
		if !poll() {
			waiting = append(waiting, poll)
		}
	}
	h.pending = waiting
}

// execute runs one step. Validation errors from the engine are traced as
// "invalid" completions; anything else aborts the scenario.
func (h *Harness) execute(step Step) error {
	err := h.dispatch(step)
	if query.IsValidationError(err) {
		h.logger.Debug("step rejected", "op", step.Op, "path", step.Path, "error", err)
		h.result.addComplete(step.Op, step.Path, "invalid", "")
		return nil
	}
	return err
}

func (h *Harness) dispatch(step Step) error {
	path := node.ParsePath(step.Path)
	if step.Conflict != nil {
		if err := h.armConflict(path, step); err != nil {
			return err
		}
	}

	switch step.Op {
	case OpListen:
		return h.listen(step)
	case OpOnce:
		return h.once(step)
	case OpOff:
		return h.off(step)
	case OpGet:
		return h.get(step)
	case OpSet:
		if step.Priority != nil {
			return h.write(step, step.Path)(h.engine.SetWithPriority(step.Path, step.Value, step.Priority))
		}
		return h.write(step, step.Path)(h.engine.Set(step.Path, step.Value))
	case OpUpdate:
		return h.write(step, step.Path)(h.engine.Update(step.Path, step.Value.(map[string]any)))
	case OpRemove:
		return h.write(step, step.Path)(h.engine.Remove(step.Path))
	case OpSetPriority:
		return h.write(step, step.Path)(h.engine.SetPriority(step.Path, step.Priority))
	case OpPush:
		q, f, err := h.engine.Push(step.Path, step.Value)
		if err != nil {
			return err
		}
		return h.write(step, q.Path().String())(f, nil)
	case OpTransaction:
		return h.transaction(step)
	case OpServerSet:
		n, err := node.FromValue(step.Value)
		if err != nil {
			return fmt.Errorf("invalid value: %w", err)
		}
		h.lb.Set(path, n)
	case OpServerUpdate:
		changes := make(map[string]*node.Node)
		for k, v := range step.Value.(map[string]any) {
			n, err := node.FromValue(v)
			if err != nil {
				return fmt.Errorf("invalid value at %s: %w", k, err)
			}
			changes[k] = n
		}
		h.lb.Update(path, changes)
	case OpDeny:
		h.lb.Deny(path)
	case OpAllow:
		h.lb.Allow(path)
	case OpPause:
		h.lb.PauseWrites()
	case OpResume:
		h.lb.ResumeWrites()
	case OpDisconnect:
		h.conn.Disconnect()
	case OpReconnect:
		h.conn.Reconnect()
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

// armConflict makes the server write step.Conflict at path just before the
// next ConflictTimes client writes there.
func (h *Harness) armConflict(path node.Path, step Step) error {
	n, err := node.FromValue(step.Conflict)
	if err != nil {
		return fmt.Errorf("invalid conflict value: %w", err)
	}
	remaining := step.ConflictTimes
	if remaining == 0 {
		remaining = 1
	}
	h.lb.BeforeWrite(func(p node.Path) {
		if remaining == 0 || !p.Equal(path) {
			return
		}
		remaining--
		h.lb.Set(p, n)
	})
	return nil
}

func (h *Harness) listen(step Step) error {
	q, err := BuildQuery(h.engine, step.Path, step.Query)
	if err != nil {
		return err
	}
	group := &listenerGroup{q: q}
	h.listeners[step.ID] = group

	for _, name := range step.Events {
		et, ok := view.ParseEventType(name)
		if !ok {
			return fmt.Errorf("unknown event type %q", name)
		}
		l, err := h.engine.On(q, et, h.recordEvent(step.ID, et), engine.WithCancel(func(err error) {
			h.result.add(TraceEvent{Kind: KindCancel, Listener: step.ID, Status: status(err)})
		}))
		if err != nil {
			return err
		}
		group.listeners = append(group.listeners, l)
	}
	return nil
}

func (h *Harness) recordEvent(id string, et view.EventType) engine.Callback {
	return func(snap view.Snapshot, prev string) {
		ev := TraceEvent{Kind: KindEvent, Listener: id, Type: string(et), Data: snap.Node().String()}
		if et != view.EventValue {
			ev.Key, ev.Prev = snap.Key(), prev
		}
		h.result.add(ev)
	}
}

func (h *Harness) once(step Step) error {
	q, err := BuildQuery(h.engine, step.Path, step.Query)
	if err != nil {
		return err
	}
	et, ok := view.ParseEventType(step.Events[0])
	if !ok {
		return fmt.Errorf("unknown event type %q", step.Events[0])
	}
	f, err := h.engine.Once(q, et)
	if err != nil {
		return err
	}
	h.listeners[step.ID] = &listenerGroup{q: q}
	h.pending = append(h.pending, func() bool {
		if !f.Ready() {
			return false
		}
		snap, err := f.Wait(context.Background())
		if err != nil {
			h.result.add(TraceEvent{Kind: KindCancel, Listener: step.ID, Status: status(err)})
			return true
		}
		ev := TraceEvent{Kind: KindEvent, Listener: step.ID, Type: string(et), Data: snap.Node().String()}
		if et != view.EventValue {
			ev.Key = snap.Key()
		}
		h.result.add(ev)
		return true
	})
	return nil
}

func (h *Harness) off(step Step) error {
	group := h.listeners[step.ID]
	for _, l := range group.listeners {
		if err := h.engine.Off(group.q, l.EventType(), l); err != nil {
			return err
		}
	}
	group.listeners = nil
	return nil
}

func (h *Harness) get(step Step) error {
	q, err := BuildQuery(h.engine, step.Path, step.Query)
	if err != nil {
		return err
	}
	f, err := h.engine.Get(q)
	if err != nil {
		return err
	}
	h.pending = append(h.pending, func() bool {
		if !f.Ready() {
			return false
		}
		snap, err := f.Wait(context.Background())
		if err != nil {
			h.result.addComplete(OpGet, step.Path, status(err), "")
			return true
		}
		h.result.addComplete(OpGet, step.Path, "ok", snap.Node().String())
		return true
	})
	return nil
}

// write returns a function that tracks a write's future until it resolves.
func (h *Harness) write(step Step, path string) func(*engine.Future[struct{}], error) error {
	return func(f *engine.Future[struct{}], err error) error {
		if err != nil {
			return err
		}
		h.pending = append(h.pending, func() bool {
			if !f.Ready() {
				return false
			}
			_, err := f.Wait(context.Background())
			h.result.addComplete(step.Op, path, status(err), "")
			return true
		})
		return nil
	}
}

func (h *Harness) transaction(step Step) error {
	update := func(current any) (any, error) {
		if step.Abort {
			return nil, engine.ErrAbort
		}
		n, _ := current.(float64)
		return n + step.Increment, nil
	}
	var opts []engine.TransactionOption
	if step.ApplyLocally != nil {
		opts = append(opts, engine.WithApplyLocally(*step.ApplyLocally))
	}

	f, err := h.engine.Transaction(step.Path, update, opts...)
	if err != nil {
		return err
	}
	h.pending = append(h.pending, func() bool {
		if !f.Ready() {
			return false
		}
		res, err := f.Wait(context.Background())
		switch {
		case err != nil:
			h.result.addComplete(OpTransaction, step.Path, status(err), "")
		case res.Committed:
			h.result.addComplete(OpTransaction, step.Path, "committed", res.Snapshot.Node().String())
		default:
			h.result.addComplete(OpTransaction, step.Path, "aborted", res.Snapshot.Node().String())
		}
		return true
	})
	return nil
}

// status names an error for trace lines: "ok", a lower-cased engine error
// code, or a remote status code.
func status(err error) string {
	if err == nil {
		return "ok"
	}
	if engine.IsRetryExhausted(err) {
		return "retry_exhausted"
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return strings.ToLower(string(ee.Code))
	}
	if code := remote.Status(err); code != "" {
		return code
	}
	return "error"
}

// BuildQuery turns a QuerySpec into a query at path. A nil spec gives the
// default query.
func BuildQuery(e *engine.Engine, path string, spec *QuerySpec) (query.Query, error) {
	q, err := e.Ref(path)
	if err != nil || spec == nil {
		return q, err
	}

	switch {
	case spec.OrderBy == "":
	case spec.OrderBy == "key":
		q, err = q.OrderByKey()
	case spec.OrderBy == "priority":
		q, err = q.OrderByPriority()
	case spec.OrderBy == "value":
		q, err = q.OrderByValue()
	case strings.HasPrefix(spec.OrderBy, "child:"):
		q, err = q.OrderByChild(strings.TrimPrefix(spec.OrderBy, "child:"))
	default:
		return q, fmt.Errorf("unknown order_by %q", spec.OrderBy)
	}

	steps := []struct {
		set   bool
		apply func() (query.Query, error)
	}{
		{spec.StartAt != nil, func() (query.Query, error) { return q.StartAt(spec.StartAt) }},
		{spec.StartAfter != nil, func() (query.Query, error) { return q.StartAfter(spec.StartAfter) }},
		{spec.EndAt != nil, func() (query.Query, error) { return q.EndAt(spec.EndAt) }},
		{spec.EndBefore != nil, func() (query.Query, error) { return q.EndBefore(spec.EndBefore) }},
		{spec.EqualTo != nil, func() (query.Query, error) { return q.EqualTo(spec.EqualTo) }},
		{spec.LimitToFirst > 0, func() (query.Query, error) { return q.LimitToFirst(spec.LimitToFirst) }},
		{spec.LimitToLast > 0, func() (query.Query, error) { return q.LimitToLast(spec.LimitToLast) }},
	}
	for _, s := range steps {
		if err != nil {
			return q, err
		}
		if s.set {
			q, err = s.apply()
		}
	}
	return q, err
}
