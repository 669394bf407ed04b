// Package view materializes queries and turns data changes into listener
// events.
//
// A View keeps two filtered projections of its location: the server cache
// and the event cache (server data plus pending writes). Recompute diffs the
// old and new event cache and emits child_removed, then child_moved and
// child_changed in the new order, then child_added, then one value event.
package view
