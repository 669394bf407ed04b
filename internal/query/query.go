package query

import (
	"strings"

	"github.com/roach88/treesync/internal/index"
	"github.com/roach88/treesync/internal/node"
)

// Query is an immutable location plus Params, bound to one endpoint.
// Every builder method returns a new Query and leaves the receiver as it
// was, including when it fails.
type Query struct {
	endpoint string
	path     node.Path
	params   Params
}

// New returns the default query at path on endpoint.
func New(endpoint string, path node.Path) Query {
	return Query{endpoint: strings.TrimSuffix(endpoint, "/"), path: path}
}

// WithParams returns the query at path filtered by params.
func WithParams(endpoint string, path node.Path, params Params) Query {
	q := New(endpoint, path)
	q.params = params
	return q
}

// Endpoint identifies the repository the query reads from.
func (q Query) Endpoint() string { return q.endpoint }

// Path returns the query's location.
func (q Query) Path() node.Path { return q.path }

// Params returns the query's filter.
func (q Query) Params() Params { return q.params }

// Key returns the last key of the location, or "" at the root.
func (q Query) Key() string { return q.path.Back() }

// Child returns the default query at a descendant location.
func (q Query) Child(rel string) (Query, error) {
	if err := node.ValidatePathString(rel, false); err != nil {
		return q, invalid("Reference.child", "%v", err)
	}
	return New(q.endpoint, q.path.Child(rel)), nil
}

// Parent returns the default query at the parent location.
func (q Query) Parent() Query {
	return New(q.endpoint, q.path.Parent())
}

// Root returns the default query at the root.
func (q Query) Root() Query {
	return New(q.endpoint, node.Root())
}

// OrderByKey orders children by key.
func (q Query) OrderByKey() (Query, error) {
	return q.orderBy("Query.orderByKey", index.Key)
}

// OrderByPriority orders children by priority.
func (q Query) OrderByPriority() (Query, error) {
	return q.orderBy("Query.orderByPriority", index.Priority)
}

// OrderByValue orders children by their own value.
func (q Query) OrderByValue() (Query, error) {
	return q.orderBy("Query.orderByValue", index.Value)
}

// OrderByChild orders children by the value at path below each child.
func (q Query) OrderByChild(path string) (Query, error) {
	const op = "Query.orderByChild"
	switch path {
	case "$key":
		return q, invalid(op, "%q is invalid; use OrderByKey instead", path)
	case "$priority":
		return q, invalid(op, "%q is invalid; use OrderByPriority instead", path)
	case "$value":
		return q, invalid(op, "%q is invalid; use OrderByValue instead", path)
	}
	parsed := node.ParsePath(path)
	if parsed.IsEmpty() {
		return q, invalid(op, "path must be a non-empty string")
	}
	if err := node.ValidatePathString(path, false); err != nil {
		return q, invalid(op, "%v", err)
	}
	return q.orderBy(op, index.ByChild(parsed))
}

func (q Query) orderBy(op string, idx index.Index) (Query, error) {
	if q.params.indexSet {
		return q, invalid(op, "you can't combine multiple orderBy calls")
	}
	next := q
	next.params.idx = idx
	next.params.indexSet = true
	if err := validateEndpoints(op, next.params); err != nil {
		return q, err
	}
	return next, nil
}

// StartAt admits children at or after value (and name, when given).
func (q Query) StartAt(value any, name ...string) (Query, error) {
	return q.withStart("Query.startAt", value, name, true)
}

// StartAfter admits children strictly after value (and name, when given).
func (q Query) StartAfter(value any, name ...string) (Query, error) {
	return q.withStart("Query.startAfter", value, name, false)
}

// EndAt admits children at or before value (and name, when given).
func (q Query) EndAt(value any, name ...string) (Query, error) {
	return q.withEnd("Query.endAt", value, name, true)
}

// EndBefore admits children strictly before value (and name, when given).
func (q Query) EndBefore(value any, name ...string) (Query, error) {
	return q.withEnd("Query.endBefore", value, name, false)
}

// EqualTo admits children whose index value equals value.
func (q Query) EqualTo(value any, name ...string) (Query, error) {
	const op = "Query.equalTo"
	if q.params.start != nil {
		return q, invalid(op, "starting point was already set (by another call to startAt, startAfter, or equalTo)")
	}
	if q.params.end != nil {
		return q, invalid(op, "ending point was already set (by another call to endAt, endBefore, or equalTo)")
	}
	next, err := q.withStart(op, value, name, true)
	if err != nil {
		return q, err
	}
	next, err = next.withEnd(op, value, name, true)
	if err != nil {
		return q, err
	}
	return next, nil
}

func (q Query) withStart(op string, value any, name []string, inclusive bool) (Query, error) {
	if q.params.start != nil {
		return q, invalid(op, "starting point was already set (by another call to startAt, startAfter, or equalTo)")
	}
	b, err := newBound(op, value, name, inclusive)
	if err != nil {
		return q, err
	}
	next := q
	next.params.start = b
	if err := validateEndpoints(op, next.params); err != nil {
		return q, err
	}
	if err := validateLimit(op, next.params); err != nil {
		return q, err
	}
	return next, nil
}

func (q Query) withEnd(op string, value any, name []string, inclusive bool) (Query, error) {
	if q.params.end != nil {
		return q, invalid(op, "ending point was already set (by another call to endAt, endBefore, or equalTo)")
	}
	b, err := newBound(op, value, name, inclusive)
	if err != nil {
		return q, err
	}
	next := q
	next.params.end = b
	if err := validateEndpoints(op, next.params); err != nil {
		return q, err
	}
	if err := validateLimit(op, next.params); err != nil {
		return q, err
	}
	return next, nil
}

func newBound(op string, value any, name []string, inclusive bool) (*Bound, error) {
	if len(name) > 1 {
		return nil, invalid(op, "expects at most 2 arguments, got %d", len(name)+1)
	}
	v, err := node.LeafFromValue(value)
	if err != nil {
		return nil, invalid(op, "first argument: %v", err)
	}
	b := &Bound{Value: v, Inclusive: inclusive}
	if len(name) == 1 {
		if err := node.ValidateKey(name[0]); err != nil {
			return nil, invalid(op, "second argument: %v", err)
		}
		b.Name = name[0]
		b.HasName = true
	}
	return b, nil
}

// LimitToFirst keeps the first n children in index order.
func (q Query) LimitToFirst(n int) (Query, error) {
	return q.withLimit("Query.limitToFirst", n, AnchorFirst)
}

// LimitToLast keeps the last n children in index order.
func (q Query) LimitToLast(n int) (Query, error) {
	return q.withLimit("Query.limitToLast", n, AnchorLast)
}

// Limit is the legacy unanchored limit. It counts from the start bound when
// one is set and from the end otherwise, and cannot be combined with both
// bounds.
func (q Query) Limit(n int) (Query, error) {
	return q.withLimit("Query.limit", n, AnchorNone)
}

func (q Query) withLimit(op string, n int, anchor Anchor) (Query, error) {
	if n <= 0 {
		return q, invalid(op, "first argument must be a positive integer")
	}
	if q.params.limitSet {
		return q, invalid(op, "limit was already set (by another call to limitToFirst, limitToLast, or limit)")
	}
	next := q
	next.params.limit = n
	next.params.limitSet = true
	next.params.anchor = anchor
	if err := validateLimit(op, next.params); err != nil {
		return q, err
	}
	return next, nil
}

// validateLimit rejects an unanchored limit with both bounds: the window
// would be ambiguous.
func validateLimit(op string, p Params) error {
	if p.limitSet && p.anchor == AnchorNone && p.start != nil && p.end != nil {
		return invalid(op, "can't combine startAt(), startAfter(), endAt(), endBefore(), and limit(); use limitToFirst() or limitToLast() instead")
	}
	return nil
}

// validateEndpoints checks both bounds against the current index.
func validateEndpoints(op string, p Params) error {
	idx := p.Index()
	if p.start != nil {
		if err := idx.ValidateBound(p.start.Value, p.start.HasName); err != nil {
			return invalid(op, "start: %v", err)
		}
	}
	if p.end != nil {
		if err := idx.ValidateBound(p.end.Value, p.end.HasName); err != nil {
			return invalid(op, "end: %v", err)
		}
	}
	return nil
}

// IsEqual reports whether both queries read the same filtered data: same
// endpoint, same location and same canonical parameters.
func (q Query) IsEqual(o Query) bool {
	return q.endpoint == o.endpoint &&
		q.path.Equal(o.path) &&
		q.params.Identifier() == o.params.Identifier()
}

// String renders a URL-like identifier: the endpoint and path, plus the
// canonical parameters for non-default queries.
func (q Query) String() string {
	s := q.endpoint + q.path.String()
	if q.params.IsDefault() {
		return s
	}
	return s + "?q=" + q.params.Identifier()
}
