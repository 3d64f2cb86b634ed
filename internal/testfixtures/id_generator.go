package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator yields "prefix-N" identifiers in order, so tests can predict
// the ids a service assigns.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDGenerator returns a generator for prefix ("id" when empty).
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// NextFunc returns Next for injection into services.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Reset restarts the sequence, optionally switching prefix.
func (g *IDGenerator) Reset(prefix string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prefix != "" {
		g.prefix = prefix
	}
	g.n = 0
}
