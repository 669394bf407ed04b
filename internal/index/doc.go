// Package index defines the orderings a query can sort children by.
//
// Index is a closed variant (key, priority, value, child path) rather than
// an interface, so every switch over Kind is exhaustive and an unknown kind
// is an invariant violation.
package index
