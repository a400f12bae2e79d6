package testutil

import (
	"fmt"
	"sync"
)

// DeterministicClock provides a thread-safe monotonic sequence for tests.
//
// Unlike compiler.Sequence, DeterministicClock can be reset for test reuse.
// This enables the same fixture to be rebuilt with identical seq values.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{seq: 0}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// FixedIDGenerator hands out predictable build ids: the prefix followed by
// a zero-padded counter.
//
// This enables golden comparison of build cache listings.
type FixedIDGenerator struct {
	prefix string
	clock  *DeterministicClock
}

// NewFixedIDGenerator creates a generator. An empty prefix becomes
// "test-build-".
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "test-build-"
	}
	return &FixedIDGenerator{prefix: prefix, clock: NewDeterministicClock()}
}

// Generate returns the next id.
func (g *FixedIDGenerator) Generate() string {
	return g.prefix + padSeq(g.clock.Next())
}

func padSeq(n int64) string {
	return fmt.Sprintf("%04d", n)
}
