package node

import "strings"

// Path is an immutable location in the tree, stored as its keys.
// The zero Path is the root.
//
// Methods never modify the receiver's backing slice; every derived Path
// gets its own copy of the pieces it keeps.
type Path struct {
	pieces []string
}

// Root returns the empty path.
func Root() Path {
	return Path{}
}

// ParsePath splits a slash-separated path. Empty segments are dropped, so
// "", "/" and "//" all parse to the root.
func ParsePath(s string) Path {
	var pieces []string
	for _, p := range strings.Split(s, "/") {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return Path{pieces: pieces}
}

// NewPath builds a path from keys. Empty keys are dropped.
func NewPath(keys ...string) Path {
	pieces := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			pieces = append(pieces, k)
		}
	}
	return Path{pieces: pieces}
}

// IsEmpty reports whether p is the root.
func (p Path) IsEmpty() bool {
	return len(p.pieces) == 0
}

// Len returns the number of keys in p.
func (p Path) Len() int {
	return len(p.pieces)
}

// Front returns the first key, or "" at the root.
func (p Path) Front() string {
	if len(p.pieces) == 0 {
		return ""
	}
	return p.pieces[0]
}

// Back returns the last key, or "" at the root.
func (p Path) Back() string {
	if len(p.pieces) == 0 {
		return ""
	}
	return p.pieces[len(p.pieces)-1]
}

// PopFront returns p without its first key.
func (p Path) PopFront() Path {
	if len(p.pieces) <= 1 {
		return Path{}
	}
	return Path{pieces: p.pieces[1:]}
}

// Parent returns p without its last key. The root is its own parent.
func (p Path) Parent() Path {
	if len(p.pieces) <= 1 {
		return Path{}
	}
	return Path{pieces: p.pieces[:len(p.pieces)-1]}
}

// Child appends a relative path (which may contain slashes) to p.
func (p Path) Child(rel string) Path {
	return p.Join(ParsePath(rel))
}

// Join appends rel to p.
func (p Path) Join(rel Path) Path {
	if len(rel.pieces) == 0 {
		return p
	}
	if len(p.pieces) == 0 {
		return rel
	}
	pieces := make([]string, 0, len(p.pieces)+len(rel.pieces))
	pieces = append(pieces, p.pieces...)
	pieces = append(pieces, rel.pieces...)
	return Path{pieces: pieces}
}

// Pieces returns a copy of the keys of p.
func (p Path) Pieces() []string {
	out := make([]string, len(p.pieces))
	copy(out, p.pieces)
	return out
}

// Contains reports whether p is an ancestor of other or equal to it.
func (p Path) Contains(other Path) bool {
	if len(p.pieces) > len(other.pieces) {
		return false
	}
	for i, k := range p.pieces {
		if other.pieces[i] != k {
			return false
		}
	}
	return true
}

// Equal reports whether p and other name the same location.
func (p Path) Equal(other Path) bool {
	return len(p.pieces) == len(other.pieces) && p.Contains(other)
}

// String renders p as "/a/b", or "/" for the root.
func (p Path) String() string {
	if len(p.pieces) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.pieces, "/")
}

// Relative returns inner expressed relative to outer. It panics when outer
// does not contain inner.
func Relative(outer, inner Path) Path {
	if !outer.Contains(inner) {
		panic("node: " + inner.String() + " is not contained in " + outer.String())
	}
	return Path{pieces: inner.pieces[len(outer.pieces):]}
}

// ComparePaths orders paths key by key using key order, shorter first on a
// shared prefix.
func ComparePaths(a, b Path) int {
	for i := 0; i < len(a.pieces) && i < len(b.pieces); i++ {
		if c := CompareNames(a.pieces[i], b.pieces[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.pieces) < len(b.pieces):
		return -1
	case len(a.pieces) > len(b.pieces):
		return 1
	}
	return 0
}
