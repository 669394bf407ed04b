package node

import (
	"cmp"
	"strconv"
	"unicode/utf16"
)

// Sentinel names used to build open range bounds. They order before and
// after every real key respectively.
const (
	MinName = "[MIN_NAME]"
	MaxName = "[MAX_NAME]"
)

// CompareNames orders keys: MinName first, MaxName last, then keys that
// look like 32-bit integers (numerically), then every other key by UTF-16
// code units.
func CompareNames(a, b string) int {
	if a == b {
		return 0
	}
	switch {
	case a == MinName || b == MaxName:
		return -1
	case b == MinName || a == MaxName:
		return 1
	}

	ai, aInt := intKey(a)
	bi, bInt := intKey(b)
	switch {
	case aInt && bInt:
		if c := cmp.Compare(ai, bi); c != 0 {
			return c
		}
		// "-0" and "0" parse equal; fall back to length for totality.
		return cmp.Compare(len(a), len(b))
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return compareUTF16(a, b)
}

// intKey reports whether s is a canonical 32-bit integer: optional minus,
// no leading zeros.
func intKey(s string) (int64, bool) {
	if s == "" || len(s) > 11 {
		return 0, false
	}
	digits := s
	if s[0] == '-' {
		digits = s[1:]
	}
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return n, true
}

// compareUTF16 compares strings by UTF-16 code units, the order JSON
// clients observe. Go's native string order compares UTF-8 bytes, which
// differs for characters outside the BMP.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return cmp.Compare(ua[i], ub[i])
		}
	}
	return cmp.Compare(len(ua), len(ub))
}

// Value classes in ascending order.
const (
	classEmpty = iota
	classBool
	classNumber
	classString
	classChildren
	classMax
)

func (n *Node) class() int {
	switch {
	case n == maxNode:
		return classMax
	case n.value == nil && len(n.children) == 0:
		return classEmpty
	case n.value == nil:
		return classChildren
	}
	switch n.value.(type) {
	case bool:
		return classBool
	case float64:
		return classNumber
	case string:
		return classString
	}
	panic("node: leaf holds unsupported value type")
}

// Compare orders two nodes by value: empty < false < true < numbers <
// strings < children nodes < Max. All children nodes compare equal; callers
// break such ties by key.
func Compare(a, b *Node) int {
	ca, cb := a.class(), b.class()
	if ca != cb {
		return cmp.Compare(ca, cb)
	}
	switch ca {
	case classBool:
		av, bv := a.value.(bool), b.value.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case classNumber:
		return cmp.Compare(a.value.(float64), b.value.(float64))
	case classString:
		return compareUTF16(a.value.(string), b.value.(string))
	}
	return 0
}
