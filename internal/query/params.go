package query

import (
	"fmt"

	"github.com/roach88/treesync/internal/index"
	"github.com/roach88/treesync/internal/node"
)

// Anchor selects which end of the ordered window a limit counts from.
type Anchor string

const (
	// AnchorNone marks a legacy Limit: counted from the left when a start
	// bound exists, from the right otherwise.
	AnchorNone Anchor = ""
	// AnchorFirst keeps the first N children (limitToFirst).
	AnchorFirst Anchor = "l"
	// AnchorLast keeps the last N children (limitToLast).
	AnchorLast Anchor = "r"
)

// Wire protocol keys of the canonical parameter map.
const (
	WireIndex          = "i"
	WireStartValue     = "sp"
	WireStartName      = "sn"
	WireStartInclusive = "sin"
	WireEndValue       = "ep"
	WireEndName        = "en"
	WireEndInclusive   = "ein"
	WireLimit          = "l"
	WireViewFrom       = "vf"
)

// Bound is one end of a range. Bounds are immutable once built.
type Bound struct {
	Value     *node.Node
	Name      string
	HasName   bool
	Inclusive bool
}

// Params is the immutable filter, order, range and limit of a query.
// The zero Params is the default query: key order, no range, no limit.
type Params struct {
	idx      index.Index
	indexSet bool
	start    *Bound
	end      *Bound
	limit    int
	limitSet bool
	anchor   Anchor
}

// Index returns the ordering, defaulting to the key index.
func (p Params) Index() index.Index {
	if !p.indexSet {
		return index.Key
	}
	return p.idx
}

// HasStart reports whether a start bound is set.
func (p Params) HasStart() bool { return p.start != nil }

// HasEnd reports whether an end bound is set.
func (p Params) HasEnd() bool { return p.end != nil }

// HasLimit reports whether a limit is set.
func (p Params) HasLimit() bool { return p.limitSet }

// Start returns the start bound. Valid only when HasStart.
func (p Params) Start() Bound {
	if p.start == nil {
		return Bound{}
	}
	return *p.start
}

// End returns the end bound. Valid only when HasEnd.
func (p Params) End() Bound {
	if p.end == nil {
		return Bound{}
	}
	return *p.end
}

// Limit returns the limit count, or 0.
func (p Params) Limit() int { return p.limit }

// Anchor returns how the limit was set.
func (p Params) Anchor() Anchor { return p.anchor }

// ViewFromLeft reports whether a limit keeps the first children.
func (p Params) ViewFromLeft() bool {
	switch p.anchor {
	case AnchorFirst:
		return true
	case AnchorLast:
		return false
	}
	return p.start != nil
}

// LoadsAllData reports whether the query sees every child at its location.
func (p Params) LoadsAllData() bool {
	return p.start == nil && p.end == nil && !p.limitSet
}

// IsDefault reports whether p is the default query.
func (p Params) IsDefault() bool {
	return p.LoadsAllData() && p.Index().Kind() == index.KindKey
}

// StartPost is the lowest NamedNode the range admits.
func (p Params) StartPost() node.NamedNode {
	idx := p.Index()
	if p.start == nil {
		return idx.MinPost()
	}
	name := node.MinName
	switch {
	case p.start.HasName:
		name = p.start.Name
	case !p.start.Inclusive:
		name = node.MaxName
	}
	return idx.MakePost(p.start.Value, name)
}

// EndPost is the highest NamedNode the range admits.
func (p Params) EndPost() node.NamedNode {
	idx := p.Index()
	if p.end == nil {
		return idx.MaxPost()
	}
	name := node.MaxName
	switch {
	case p.end.HasName:
		name = p.end.Name
	case !p.end.Inclusive:
		name = node.MinName
	}
	return idx.MakePost(p.end.Value, name)
}

// StartInclusive reports whether the start post itself is admitted.
func (p Params) StartInclusive() bool {
	return p.start == nil || p.start.Inclusive
}

// EndInclusive reports whether the end post itself is admitted.
func (p Params) EndInclusive() bool {
	return p.end == nil || p.end.Inclusive
}

// ListenParams returns the parameters to listen with: queries that load all
// data share the default listen, since the server sends the full location.
func (p Params) ListenParams() Params {
	if p.LoadsAllData() {
		return Params{}
	}
	return p
}

// WireMap is the canonical parameter object. The default query maps to an
// empty object.
func (p Params) WireMap() map[string]any {
	m := map[string]any{}
	if p.indexSet && p.idx.Kind() != index.KindKey {
		m[WireIndex] = p.idx.WireName()
	}
	if p.start != nil {
		m[WireStartValue] = p.start.Value.Val()
		if p.start.HasName {
			m[WireStartName] = p.start.Name
		}
		m[WireStartInclusive] = p.start.Inclusive
	}
	if p.end != nil {
		m[WireEndValue] = p.end.Value.Val()
		if p.end.HasName {
			m[WireEndName] = p.end.Name
		}
		m[WireEndInclusive] = p.end.Inclusive
	}
	if p.limitSet {
		m[WireLimit] = p.limit
		if p.ViewFromLeft() {
			m[WireViewFrom] = string(AnchorFirst)
		} else {
			m[WireViewFrom] = string(AnchorLast)
		}
	}
	return m
}

// Identifier is the canonical JSON of WireMap. Equal identifiers mean
// equal filters.
func (p Params) Identifier() string {
	b, err := node.MarshalCanonical(p.WireMap())
	if err != nil {
		panic(fmt.Sprintf("query: canonical params: %v", err))
	}
	return string(b)
}

func (p Params) String() string {
	return p.Identifier()
}
