// Package node provides the immutable value model of the data store.
//
// A Node is null, a primitive leaf or an ordered set of children, plus an
// optional priority. Nodes are persistent: every update returns a new root
// and shares the untouched subtrees with the old one, so a Node can be handed
// to any number of views without copying.
//
// Key constraints:
//   - Numbers are float64; NaN and Infinity are rejected at conversion
//   - Children are kept in key order (integer-like keys first)
//   - Null children are never stored
//   - Canonical JSON is the only serialization used for identity
//
// node imports nothing internal.
package node
