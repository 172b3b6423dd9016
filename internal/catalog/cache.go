// Package catalog holds the in-memory product catalog state: the descriptor
// cache filled by product queries and the offer selection logic used when a
// subscription product exposes multiple purchase options.
package catalog

import (
	"sync"

	"playbridge/internal/types"
)

// Cache maps product identifiers to the most recently fetched descriptor.
// Entries are overwritten, never merged, on each successful catalog fetch.
// There is no expiry and no size bound: the cache is bounded by catalog size
// (tens to low hundreds of entries) and lives for the session lifetime of the
// bridge instance.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]types.ProductDetails
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]types.ProductDetails),
	}
}

// Put stores the descriptor under its own product ID. Keying off the
// descriptor itself guarantees an entry's offers always belong to the product
// identifier they are stored under.
func (c *Cache) Put(d types.ProductDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.ProductID] = d
}

// Get returns the most recent descriptor for the product, if any.
func (c *Cache) Get(productID string) (types.ProductDetails, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[productID]
	return d, ok
}

// Len returns the number of cached descriptors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
