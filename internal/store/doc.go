// Package store provides durable caches for the sync engine.
//
// Two backends implement engine.Cache:
//   - Store: SQLite (mattn/go-sqlite3), one row per pending write and per
//     recorded server location
//   - Bolt: bbolt buckets holding msgpack-encoded records
//
// # Critical Patterns
//
// CP-1: Pending writes are keyed by write id
//   - PendingWrites returns them in ascending id order
//   - Restoring them in that order rebuilds the engine's write tree exactly
//
// CP-2: One record per subtree
//   - No recorded server location has a recorded ancestor
//   - Saving below a recorded location rewrites the ancestor's record;
//     saving above recorded locations replaces them
//   - Saving empty data deletes the record
//
// CP-3: Canonical encoding
//   - SQLite rows hold canonical JSON (node.MarshalCanonical) with the
//     node hash, checked on load
//   - Priorities are kept in the ".value"/".priority" form
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
