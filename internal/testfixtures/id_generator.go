package testfixtures

import (
	"fmt"
	"sync"
)

// RunIDs produces deterministic migration run identifiers for tests.
type RunIDs struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
	issued  []string
}

// NewRunIDs constructs a generator yielding "<prefix>-1", "<prefix>-2", ...
// When prefix is empty, "run" is used.
func NewRunIDs(prefix string) *RunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &RunIDs{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *RunIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	id := fmt.Sprintf("%s-%d", g.prefix, g.counter)
	g.issued = append(g.issued, id)
	return id
}

// NextFunc exposes Next as a function suitable for dependency injection.
func (g *RunIDs) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Issued returns every identifier handed out so far.
func (g *RunIDs) Issued() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.issued...)
}

// Reset restarts the sequence.
func (g *RunIDs) Reset() {
	g.mu.Lock()
	g.counter = 0
	g.issued = nil
	g.mu.Unlock()
}
