package engine

import (
	"cmp"
	"maps"
	"slices"

	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/view"
)

// eventRank orders a batch: removals, then changes and moves (which keep
// their relative order), then additions, then values. Cancel events go
// last.
func eventRank(ev view.Event) int {
	if ev.IsCancel() {
		return 4
	}
	switch ev.Type {
	case view.EventChildRemoved:
		return 0
	case view.EventChildChanged, view.EventChildMoved:
		return 1
	case view.EventChildAdded:
		return 2
	default:
		return 3
	}
}

// dispatch delivers the batch produced by the current task.
// CRITICAL: Called only from the loop goroutine, after the task returns.
//
// Calls a callback makes into the engine enqueue new tasks, so anything a
// callback changes is seen in a later batch, never in this one.
func (e *Engine) dispatch() {
	batch := e.batch
	e.batch = nil
	slices.SortStableFunc(batch, func(a, b view.Event) int {
		return cmp.Compare(eventRank(a), eventRank(b))
	})

	for _, ev := range batch {
		reg := ev.Registration
		if !ev.IsCancel() && reg.Removed() {
			continue
		}
		if !e.fire(ev) {
			continue
		}
		if reg.Once() && !reg.Removed() {
			e.removeOnce(reg)
		}
	}

	maps.DeleteFunc(e.regQueries, func(r *view.Registration, _ query.Query) bool {
		return r.Removed()
	})
	maps.DeleteFunc(e.internal, func(r *view.Registration, _ bool) bool {
		return r.Removed()
	})
	e.metrics.UpdatePendingWrites(len(e.tree.PendingWrites()))
}

// fire runs one callback. A panic is logged and counted; the remaining
// events of the batch are still delivered.
func (e *Engine) fire(ev view.Event) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("listener callback panicked",
				"path", ev.Path.String(),
				"event", string(ev.Type),
				"registration", ev.Registration.ID(),
				"panic", r,
			)
			e.metrics.RecordCallbackPanic()
			fired = true
		}
	}()

	fired = ev.Registration.Fire(ev)
	if fired {
		if ev.IsCancel() {
			e.metrics.RecordEvent("cancel")
		} else {
			e.metrics.RecordEvent(string(ev.Type))
		}
	}
	return fired
}

// removeOnce detaches a once registration after its delivery. Removal
// without an error produces no events, so the batch being dispatched is
// unaffected.
func (e *Engine) removeOnce(reg *view.Registration) {
	q, ok := e.regQueries[reg]
	if !ok {
		return
	}
	e.tree.RemoveEventRegistration(q, func(r *view.Registration) bool { return r == reg }, nil)
}
