package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns sequential "<prefix>-1", "<prefix>-2", ... IDs.
//
// Unlike the production UUIDv7 generator, IDs are predictable, so tests and
// golden files can reference entities by name. A fresh generator per test
// keeps sequences independent.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator with the given prefix.
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// NewID returns the next sequential ID.
func (g *FixedIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
