package node

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxKeyBytes bounds the UTF-8 length of a single key.
const MaxKeyBytes = 768

const invalidKeyChars = ".#$[]/"

// ValidateKey checks that k can be stored as a child key.
func ValidateKey(k string) error {
	if k == "" {
		return fmt.Errorf("key must be a non-empty string")
	}
	if len(k) > MaxKeyBytes {
		return fmt.Errorf("key %q is longer than %d bytes", k, MaxKeyBytes)
	}
	if !utf8.ValidString(k) {
		return fmt.Errorf("key %q is not valid UTF-8", k)
	}
	if strings.ContainsAny(k, invalidKeyChars) {
		return fmt.Errorf("key %q contains one of %q", k, invalidKeyChars)
	}
	for _, r := range k {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("key %q contains a control character", k)
		}
	}
	return nil
}

// ValidatePathString checks a slash-separated path. ".priority" is allowed
// as the last key when allowPriority is set.
func ValidatePathString(s string, allowPriority bool) error {
	p := ParsePath(s)
	for i, k := range p.pieces {
		if allowPriority && k == PriorityKey && i == len(p.pieces)-1 {
			continue
		}
		if err := ValidateKey(k); err != nil {
			return fmt.Errorf("invalid path %q: %w", s, err)
		}
	}
	return nil
}

// ValidatePriority accepts Empty, numbers and strings.
func ValidatePriority(p *Node) error {
	if p.IsEmpty() {
		return nil
	}
	switch p.value.(type) {
	case float64, string:
		return nil
	}
	if !p.IsLeaf() {
		return fmt.Errorf("priority must be a string, number or null, got an object")
	}
	return fmt.Errorf("priority must be a string, number or null, got %T", p.value)
}
