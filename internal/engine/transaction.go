package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/view"
)

// UpdateFunc computes a transaction's new value from the current one.
// current is the plain value (nil when there is no data). Return ErrAbort
// to stop without writing. The function may run several times and must
// not have side effects.
type UpdateFunc func(current any) (any, error)

// TransactionResult is the outcome of a transaction that did not fail.
type TransactionResult struct {
	// Committed is false when the update function returned ErrAbort.
	Committed bool
	// Snapshot is the data at the location when the transaction ended.
	Snapshot view.Snapshot
}

// TransactionOption configures Transaction.
type TransactionOption func(*transaction)

// WithApplyLocally controls whether intermediate values are shown to
// listeners before the server accepts them. Default: true.
func WithApplyLocally(apply bool) TransactionOption {
	return func(tx *transaction) {
		tx.applyLocally = apply
	}
}

// txStatus is the state of one transaction.
//
//	INITIALIZING → RUN → SENT → COMPLETED
//	                       ↘ SENT_NEEDS_ABORT (a local set overlapped; aborts on response)
//	             ↘ NEEDS_ABORT (a local set overlapped before the send)
type txStatus int

const (
	txInitializing txStatus = iota + 1
	txRun
	txSent
	txCompleted
	txSentNeedsAbort
	txNeedsAbort
)

func (s txStatus) String() string {
	switch s {
	case txInitializing:
		return "INITIALIZING"
	case txRun:
		return "RUN"
	case txSent:
		return "SENT"
	case txCompleted:
		return "COMPLETED"
	case txSentNeedsAbort:
		return "SENT_NEEDS_ABORT"
	case txNeedsAbort:
		return "NEEDS_ABORT"
	default:
		return fmt.Sprintf("txStatus(%d)", int(s))
	}
}

// transaction is the runner state of one Transaction call. Loop-owned.
type transaction struct {
	q            query.Query
	update       UpdateFunc
	applyLocally bool
	status       txStatus
	budget       *RetryBudget
	reg          *view.Registration
	future       *Future[TransactionResult]

	writeID int64      // current local write, 0 when none
	input   *node.Node // value the update function saw
	output  *node.Node // value it produced
	unsent  bool       // waiting for the connection to send output
	abort   error      // reason once an abort is pending
}

func (tx *transaction) path() node.Path { return tx.q.Path() }

// Transaction atomically replaces the data at path with the result of fn.
//
// fn runs against the best local knowledge of the data, and its result is
// written only if the server still holds what fn saw. When another writer
// got there first, fn runs again on the new data, up to the retry limit.
// Transactions at the same path run one after another.
func (e *Engine) Transaction(path string, fn UpdateFunc, opts ...TransactionOption) (*Future[TransactionResult], error) {
	if err := node.ValidatePathString(path, false); err != nil {
		return nil, invalid("Engine.Transaction", err)
	}
	if fn == nil {
		return nil, invalid("Engine.Transaction", fmt.Errorf("update function must not be nil"))
	}

	tx := &transaction{
		q:            query.New(e.endpoint, node.ParsePath(path)),
		update:       fn,
		applyLocally: true,
		status:       txInitializing,
		budget:       NewRetryBudget(e.maxRetries),
		future:       newFuture[TransactionResult](),
	}
	for _, opt := range opts {
		opt(tx)
	}
	tx.reg = view.NewRegistration(e.regIDs.Add(1), view.EventValue, func(view.Event) {}, nil)

	if err := e.submit("transaction.start", func(ctx context.Context) error {
		e.startTransaction(tx)
		return nil
	}); err != nil {
		return nil, err
	}
	return tx.future, nil
}

// startTransaction keeps the location synced for the transaction's
// lifetime and queues it behind earlier transactions at the same path.
func (e *Engine) startTransaction(tx *transaction) {
	e.addRegistration(tx.q, tx.reg, true)

	key := tx.path().String()
	e.txQueues[key] = append(e.txQueues[key], tx)
	if len(e.txQueues[key]) == 1 {
		e.scheduleRun(tx)
	}
}

// scheduleRun moves tx to RUN and runs it in a later task, after any
// server data already queued has been applied.
func (e *Engine) scheduleRun(tx *transaction) {
	tx.status = txRun
	e.enqueue("transaction.run", func(ctx context.Context) error {
		if tx.status != txRun {
			return nil
		}
		e.runTransaction(tx)
		return nil
	})
}

func (e *Engine) runTransaction(tx *transaction) {
	path := tx.path()
	var exclude []int64
	if tx.writeID != 0 {
		exclude = append(exclude, tx.writeID)
	}
	current := e.tree.CalcCompleteEventCache(path, exclude...)
	if current == nil {
		current = node.Empty()
	}
	tx.input = current

	result, err := callUpdate(tx.update, current.Val())
	switch {
	case errors.Is(err, ErrAbort):
		e.finishTransaction(tx, TransactionResult{Snapshot: e.txSnapshot(tx, current)}, nil, "aborted")
		return
	case err != nil:
		e.finishTransaction(tx, TransactionResult{}, &Error{
			Code:    CodeTransactionAborted,
			Message: "update function failed",
			Path:    path.String(),
			Err:     err,
		}, "failed")
		return
	}

	out, err := node.FromValue(result)
	if err != nil {
		e.finishTransaction(tx, TransactionResult{}, &Error{
			Code:    CodeTransactionAborted,
			Message: "update function returned an invalid value",
			Path:    path.String(),
			Err:     err,
		}, "failed")
		return
	}
	if out.Priority().IsEmpty() && !out.IsEmpty() {
		out = out.UpdatePriority(current.Priority())
	}
	tx.output = out

	if tx.writeID != 0 {
		e.emit(e.tree.AckUserWrite(tx.writeID, true))
	}
	tx.writeID = e.clock.Next()
	e.emit(e.tree.ApplyUserOverwrite(path, out, tx.writeID, tx.applyLocally))

	tx.status = txSent
	if !e.connected {
		e.logger.Debug("transaction send deferred until reconnect", "path", path.String())
		tx.unsent = true
		return
	}
	e.sendTransaction(tx)
}

func (e *Engine) sendTransaction(tx *transaction) {
	tx.unsent = false
	id := tx.writeID
	e.ds.Put(tx.path(), tx.output, tx.input.Hash(), func(err error) {
		e.enqueue("transaction.response", func(ctx context.Context) error {
			e.transactionResponse(tx, id, err)
			return nil
		})
	})
}

func (e *Engine) transactionResponse(tx *transaction, id int64, err error) {
	if tx.writeID != id {
		return
	}
	path := tx.path()

	if err == nil {
		e.emit(e.tree.AckUserWrite(id, false))
		tx.writeID = 0
		tx.status = txCompleted
		snap := e.tree.CalcCompleteEventCache(path)
		if snap == nil {
			snap = tx.output
		}
		e.finishTransaction(tx, TransactionResult{Committed: true, Snapshot: e.txSnapshot(tx, snap)}, nil, "committed")
		return
	}

	e.emit(e.tree.AckUserWrite(id, true))
	tx.writeID = 0
	e.metrics.RecordRemoteError("transaction", remote.Status(err))

	switch {
	case tx.status == txSentNeedsAbort:
		e.finishTransaction(tx, TransactionResult{}, tx.abort, "aborted")
	case remote.IsDataStale(err):
		if berr := tx.budget.Check(path.String()); berr != nil {
			e.logger.Warn("transaction retries exhausted",
				"path", path.String(),
				"retries", tx.budget.Current()-1,
				"limit", tx.budget.Limit(),
			)
			e.finishTransaction(tx, TransactionResult{}, berr, "failed")
			return
		}
		e.logger.Debug("transaction lost a race, rerunning", "path", path.String(), "retry", tx.budget.Current())
		e.metrics.RecordRetry()
		e.scheduleRun(tx)
	default:
		e.logger.Warn("transaction rejected", "path", path.String(), "error", err)
		e.finishTransaction(tx, TransactionResult{}, fmt.Errorf("transaction %s: %w", path, err), "failed")
	}
}

// abortTransactions handles a local write at path: transactions at, above
// or below it that have not been sent abort now; sent ones abort when
// their response arrives.
func (e *Engine) abortTransactions(path node.Path) {
	for _, queue := range e.sortedTxQueues() {
		for _, tx := range queue {
			if !tx.path().Contains(path) && !path.Contains(tx.path()) {
				continue
			}
			reason := &Error{Code: CodeOverriddenBySet, Message: "a local write replaced the data", Path: tx.path().String()}
			switch {
			case tx.status == txSent && !tx.unsent:
				tx.status = txSentNeedsAbort
				tx.abort = reason
			case tx.status == txInitializing, tx.status == txRun, tx.status == txSent:
				tx.status = txNeedsAbort
				tx.abort = reason
				if tx.writeID != 0 {
					e.emit(e.tree.AckUserWrite(tx.writeID, true))
					tx.writeID = 0
				}
				e.finishTransaction(tx, TransactionResult{}, reason, "aborted")
			}
		}
	}
}

// resumeTransactions runs again every transaction whose send was deferred
// while offline. Its input is probably stale by now, so it recomputes from
// the data the reconnect brings instead of sending the old output.
func (e *Engine) resumeTransactions() {
	for _, queue := range e.sortedTxQueues() {
		for _, tx := range queue {
			if tx.status == txSent && tx.unsent {
				tx.unsent = false
				e.scheduleRun(tx)
			}
		}
	}
}

// finishTransaction resolves tx, releases its listener and starts the next
// transaction at the same path.
func (e *Engine) finishTransaction(tx *transaction, res TransactionResult, err error, outcome string) {
	if tx.status != txNeedsAbort && tx.status != txSentNeedsAbort {
		tx.status = txCompleted
	}
	e.metrics.RecordTransaction(outcome)
	if err != nil {
		tx.future.reject(err)
	} else {
		tx.future.resolve(res)
	}

	e.tree.RemoveEventRegistration(tx.q, func(r *view.Registration) bool { return r == tx.reg }, nil)

	key := tx.path().String()
	queue := e.txQueues[key]
	for i, t := range queue {
		if t == tx {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(e.txQueues, key)
		return
	}
	e.txQueues[key] = queue
	if head := queue[0]; head.status == txInitializing {
		e.scheduleRun(head)
	}
}

func (e *Engine) sortedTxQueues() [][]*transaction {
	out := make([][]*transaction, 0, len(e.txQueues))
	for _, p := range slices.Sorted(maps.Keys(e.txQueues)) {
		// Copy: finishing a transaction edits the queue being walked.
		out = append(out, append([]*transaction(nil), e.txQueues[p]...))
	}
	return out
}

func (e *Engine) txSnapshot(tx *transaction, n *node.Node) view.Snapshot {
	return view.NewSnapshot(tx.q.Key(), n, tx.q.Params().Index())
}

// callUpdate runs fn, turning a panic into an error.
func callUpdate(fn UpdateFunc, current any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update function panicked: %v", r)
		}
	}()
	return fn(current)
}
