package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDs generates predictable run IDs for history tests.
//
// IDs are "<prefix>-0001", "<prefix>-0002", ... so golden output and SQL
// assertions do not depend on UUIDv7 timestamps.
//
// Thread-safety: SequentialRunIDs is safe for concurrent use via internal mutex.
type SequentialRunIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialRunIDs creates a generator. An empty prefix means "run".
func NewSequentialRunIDs(prefix string) *SequentialRunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &SequentialRunIDs{prefix: prefix, next: 1}
}

// Generate returns the next ID.
//
// Implements store.RunIDGenerator.
func (g *SequentialRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s-%04d", g.prefix, g.next)
	g.next++
	return id
}
