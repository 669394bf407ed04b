// Package synctree routes operations to the views they affect.
//
// The SyncTree keeps three pieces of state:
//   - the known server data, as a CompoundWrite of complete subtrees
//   - the pending write log (WriteTree), in write id order
//   - the SyncPoints, one per path with active views
//
// Every entry point applies its operation and then recomputes the views at,
// above and below the operation's path from scratch, so a revert is
// expressed against the writes that remain rather than by undoing one.
//
// The tree also decides which remote listens are needed: a view is served
// by the top-most view at or above it that loads all data.
package synctree
