package engine

import (
	"sync"

	"github.com/google/uuid"
)

// PushIDGenerator generates child keys for Push.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type PushIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 push keys.
//
// UUIDv7 embeds a timestamp in the most significant bits, so keys pushed
// later sort after keys pushed earlier under the default key order. The
// hyphenated lowercase form contains no character forbidden in keys.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined push keys for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedGenerator creates a generator that returns keys in order.
//
// Example:
//
//	gen := NewFixedGenerator("k1", "k2")
//	gen.Generate() // "k1"
//	gen.Generate() // "k2"
//	gen.Generate() // panic: all keys exhausted
func NewFixedGenerator(keys ...string) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// Generate returns the next predetermined key.
//
// Panics if all keys have been consumed, to catch a test that pushes more
// often than it expects.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic("FixedGenerator: all keys exhausted")
	}
	key := g.keys[g.idx]
	g.idx++
	return key
}
