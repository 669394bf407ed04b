package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/synctree"
)

// Set overwrites the data at path. Listeners see the new value in the
// batch of the task that applies it; if the server rejects the write it is
// reverted and the future fails with the server's error.
func (e *Engine) Set(path string, value any) (*Future[struct{}], error) {
	if err := node.ValidatePathString(path, false); err != nil {
		return nil, invalid("Engine.Set", err)
	}
	n, err := node.FromValue(value)
	if err != nil {
		return nil, invalid("Engine.Set", err)
	}
	return e.overwrite("set", node.ParsePath(path), n)
}

// SetWithPriority overwrites the data at path and sets its priority.
func (e *Engine) SetWithPriority(path string, value, priority any) (*Future[struct{}], error) {
	if err := node.ValidatePathString(path, false); err != nil {
		return nil, invalid("Engine.SetWithPriority", err)
	}
	n, err := node.FromValue(value)
	if err != nil {
		return nil, invalid("Engine.SetWithPriority", err)
	}
	p, err := priorityNode(priority)
	if err != nil {
		return nil, invalid("Engine.SetWithPriority", err)
	}
	return e.overwrite("set", node.ParsePath(path), n.UpdatePriority(p))
}

// SetPriority changes only the priority at path. It has no effect on a
// location without data.
func (e *Engine) SetPriority(path string, priority any) (*Future[struct{}], error) {
	if err := node.ValidatePathString(path, false); err != nil {
		return nil, invalid("Engine.SetPriority", err)
	}
	p, err := priorityNode(priority)
	if err != nil {
		return nil, invalid("Engine.SetPriority", err)
	}
	return e.overwrite("set_priority", node.ParsePath(path).Child(node.PriorityKey), p)
}

// Remove deletes the data at path.
func (e *Engine) Remove(path string) (*Future[struct{}], error) {
	if err := node.ValidatePathString(path, false); err != nil {
		return nil, invalid("Engine.Remove", err)
	}
	return e.overwrite("remove", node.ParsePath(path), node.Empty())
}

// Push writes value under a new generated key below path and returns the
// query for the new child.
func (e *Engine) Push(path string, value any) (query.Query, *Future[struct{}], error) {
	if err := node.ValidatePathString(path, false); err != nil {
		return query.Query{}, nil, invalid("Engine.Push", err)
	}
	n, err := node.FromValue(value)
	if err != nil {
		return query.Query{}, nil, invalid("Engine.Push", err)
	}
	key := e.pushIDs.Generate()
	if err := node.ValidateKey(key); err != nil {
		return query.Query{}, nil, fmt.Errorf("push key generator: %w", err)
	}
	child := node.ParsePath(path).Child(key)
	f, err := e.overwrite("push", child, n)
	if err != nil {
		return query.Query{}, nil, err
	}
	return query.New(e.endpoint, child), f, nil
}

// Update writes each value in values at its path relative to path, as
// one atomic change: listeners see all of it in one batch. Keys may be
// multi-segment paths but must not overlap.
func (e *Engine) Update(path string, values map[string]any) (*Future[struct{}], error) {
	if err := node.ValidatePathString(path, false); err != nil {
		return nil, invalid("Engine.Update", err)
	}
	changes := make(map[string]*node.Node, len(values))
	for k, v := range values {
		if err := node.ValidatePathString(k, true); err != nil {
			return nil, invalid("Engine.Update", err)
		}
		n, err := node.FromValue(v)
		if err != nil {
			return nil, invalid("Engine.Update", fmt.Errorf("value at %q: %w", k, err))
		}
		changes[node.ParsePath(k).String()] = n
	}
	if err := checkDisjoint(changes); err != nil {
		return nil, invalid("Engine.Update", err)
	}

	at := node.ParsePath(path)
	f := newFuture[struct{}]()
	if len(changes) == 0 {
		if e.queue.Closed() {
			return nil, errClosed()
		}
		f.resolve(struct{}{})
		return f, nil
	}
	if err := e.submit("update", func(ctx context.Context) error {
		id := e.clock.Next()
		e.emit(e.tree.ApplyUserMerge(at, changes, id))
		for k := range changes {
			e.abortTransactions(at.Join(node.ParsePath(k)))
		}
		e.sendMerge(id, at, changes, f)
		return e.saveWrite(ctx, synctree.UserWrite{WriteID: id, Path: at, Children: changes, Visible: true})
	}); err != nil {
		return nil, err
	}
	return f, nil
}

func (e *Engine) overwrite(op string, path node.Path, n *node.Node) (*Future[struct{}], error) {
	f := newFuture[struct{}]()
	if err := e.submit(op, func(ctx context.Context) error {
		id := e.clock.Next()
		e.emit(e.tree.ApplyUserOverwrite(path, n, id, true))
		e.abortTransactions(path)
		e.sendPut(id, path, n, f)
		return e.saveWrite(ctx, synctree.UserWrite{WriteID: id, Path: path, Snap: n, Visible: true})
	}); err != nil {
		return nil, err
	}
	return f, nil
}

// sendPut sends a write. The acknowledgement arrives as a task; f may be
// nil for restored writes.
func (e *Engine) sendPut(id int64, path node.Path, n *node.Node, f *Future[struct{}]) {
	e.ds.Put(path, n, "", func(err error) {
		e.enqueue("write.ack", func(ctx context.Context) error {
			return e.ackWrite(ctx, "put", id, path, err, f)
		})
	})
}

func (e *Engine) sendMerge(id int64, path node.Path, changes map[string]*node.Node, f *Future[struct{}]) {
	e.ds.Merge(path, changes, func(err error) {
		e.enqueue("write.ack", func(ctx context.Context) error {
			return e.ackWrite(ctx, "merge", id, path, err, f)
		})
	})
}

// ackWrite retires a write. A rejected write is reverted: every view it
// touched is recomputed from the writes that remain.
func (e *Engine) ackWrite(ctx context.Context, op string, id int64, path node.Path, err error, f *Future[struct{}]) error {
	e.emit(e.tree.AckUserWrite(id, err != nil))

	if err != nil {
		e.logger.Warn("write rejected",
			"op", op,
			"write_id", id,
			"path", path.String(),
			"error", err,
		)
		e.metrics.RecordRemoteError(op, remote.Status(err))
		if f != nil {
			f.reject(fmt.Errorf("%s %s: %w", op, path, err))
		}
	} else if f != nil {
		f.resolve(struct{}{})
	}

	if e.cache != nil {
		if cerr := e.cache.RemoveWrite(ctx, id); cerr != nil {
			return fmt.Errorf("remove cached write %d: %w", id, cerr)
		}
	}
	return nil
}

func (e *Engine) saveWrite(ctx context.Context, w synctree.UserWrite) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.SaveWrite(ctx, w); err != nil {
		return fmt.Errorf("save write %d: %w", w.WriteID, err)
	}
	return nil
}

func priorityNode(v any) (*node.Node, error) {
	p, err := node.LeafFromValue(v)
	if err != nil {
		return nil, fmt.Errorf("priority: %w", err)
	}
	if err := node.ValidatePriority(p); err != nil {
		return nil, err
	}
	return p, nil
}

// checkDisjoint rejects an update where one path contains another.
func checkDisjoint(changes map[string]*node.Node) error {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for i, a := range keys {
		for _, b := range keys[i+1:] {
			pa, pb := node.ParsePath(a), node.ParsePath(b)
			if pa.Contains(pb) || pb.Contains(pa) {
				return fmt.Errorf("path %s overlaps path %s", b, a)
			}
		}
	}
	return nil
}
