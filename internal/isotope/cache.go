package isotope

import (
	"fmt"
	"sync"
	"sync/atomic"

	"isoquant/internal/formula"
)

// Cache holds correction matrices keyed by chemical configuration so
// every sample sharing a compound configuration reuses one matrix.
// Lookups are safe under concurrent use; a race on first access may
// build the same matrix twice, which is wasteful but harmless since
// builds are deterministic (the first stored entry wins).
//
// The cache is explicit and injectable; it is owned by whoever runs a
// batch, not a process-wide singleton.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Matrix

	// Counters are atomic so the hit path never needs the write lock.
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns an empty matrix cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Matrix)}
}

func cacheKey(eff formula.Formula, labelElement string, labelAtoms int, purity float64) string {
	return fmt.Sprintf("%s|%s|%d|%g", eff.Canonical(), labelElement, labelAtoms, purity)
}

// Get returns the correction matrix for a configuration, building and
// storing it on first access.
func (c *Cache) Get(eff formula.Formula, labelElement string, labelAtoms int, purity float64) (*Matrix, error) {
	key := cacheKey(eff, labelElement, labelAtoms, purity)

	c.mu.RLock()
	m, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return m, nil
	}

	// Build outside the lock; concurrent first access may duplicate
	// work but never produces divergent entries.
	built, err := Build(eff, labelElement, labelAtoms, purity)
	if err != nil {
		return nil, err
	}

	c.misses.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = built
	return built, nil
}

// Stats reports lookup counters and the entry count.
func (c *Cache) Stats() (hits, misses int64, entries int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits.Load(), c.misses.Load(), len(c.entries)
}

// Clear drops every cached matrix, e.g. after a configuration change.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Matrix)
}
