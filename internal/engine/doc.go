// Package engine implements the treesync client: the loop that owns the
// sync tree, the listener API, local writes, one-off reads and
// transactions.
//
// ARCHITECTURE:
//
// Single-Writer Task Loop:
// Every change to the sync tree happens in a task run by one goroutine.
// This ensures:
// - Listeners observe events in the order the tree changed
// - A callback never sees a half-applied operation
// - Remote callbacks never block on the engine
//
// Task Processing Flow:
//  1. Public calls validate their arguments and enqueue a task
//  2. Remote callbacks (listen data, write acks) enqueue tasks
//  3. Run() (or Drain() in tests) dequeues tasks one at a time
//  4. A task applies operations to the sync tree, collecting events
//  5. After the task returns, its events are sorted and delivered as one batch
//
// Anything a listener callback starts (a Set, an Off, another On) is a new
// task, so its effects show up in a later batch.
//
// CRITICAL PATTERNS:
//
// Write Ids:
// Local writes are stamped with increasing ids from Clock.Next(). The write
// tree layers later ids over earlier ones; a reverted write is removed and
// the affected views recomputed from the rest.
//
// Transactions:
// A transaction runs its update function against local data, writes the
// result and sends it conditioned on the hash of its input. A stale answer
// reverts the write and reruns the function, at most
// WithMaxTransactionRetries times.
package engine
