// Package query implements the immutable query descriptor.
//
// A Query is a location, an endpoint and a Params value. Builder methods
// (OrderBy*, StartAt, LimitToFirst, ...) copy the receiver, apply one change
// and validate the result; on failure they return the unchanged receiver
// together with a *ValidationError.
//
// Params canonicalizes to a wire map whose canonical JSON (Identifier) is
// the query's identity: two queries are equal iff endpoint, path and
// identifier match.
package query
