package testutil

import (
	"fmt"
	"sync"
)

// SequentialPushIDs generates push keys "<prefix>-0001", "<prefix>-0002", ...
//
// The keys sort in generation order, like real push keys, but are stable
// across runs so golden traces stay byte-identical.
//
// Thread-safety: SequentialPushIDs is safe for concurrent use.
type SequentialPushIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialPushIDs creates a generator. An empty prefix becomes "push".
func NewSequentialPushIDs(prefix string) *SequentialPushIDs {
	if prefix == "" {
		prefix = "push"
	}
	return &SequentialPushIDs{prefix: prefix}
}

// Generate returns the next key.
func (g *SequentialPushIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts the sequence.
func (g *SequentialPushIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
