package testutil

import "sync"

// FixedBatchGenerator returns predetermined batch ids in sequence.
//
// This enables deterministic pipeline runs and golden manifest comparison:
// the same scenario with the same FixedBatchGenerator produces
// byte-identical manifests and lineage stamps.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedBatchGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedBatchGenerator creates a generator that returns ids in order.
//
// Panics on exhaustion - fail-fast for test misconfiguration (the test
// ran more pipeline runs than it provided ids for).
func NewFixedBatchGenerator(ids ...string) *FixedBatchGenerator {
	return &FixedBatchGenerator{ids: ids}
}

// Generate returns the next predetermined batch id.
func (g *FixedBatchGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedBatchGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
