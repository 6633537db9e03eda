package fetch

import (
	"sync"

	"github.com/tilezen/go-tilefetch/feature"
)

// Cache holds the result of the most recent completed fetch.
type Cache struct {
	mu       sync.RWMutex
	features []*feature.Feature
}

// Replace swaps the cached features for fs.
func (c *Cache) Replace(fs []*feature.Feature) {
	cp := make([]*feature.Feature, len(fs))
	copy(cp, fs)

	c.mu.Lock()
	c.features = cp
	c.mu.Unlock()
}

// Snapshot returns a copy of the cached features.
func (c *Cache) Snapshot() []*feature.Feature {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := make([]*feature.Feature, len(c.features))
	copy(cp, c.features)
	return cp
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.features = nil
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.features)
}
