// Package cache provides generic, hash-keyed caching utilities used to
// memoize content-addressed lookups elsewhere in the engine.
package cache

import (
	"sync"

	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

// BlobCache is a generic cache keyed by blob hash.
// It is safe for concurrent use.
type BlobCache[T any] struct {
	data map[gitlib.Hash]T
	mu   sync.RWMutex
}

// NewBlobCache creates a new blob cache.
func NewBlobCache[T any]() *BlobCache[T] {
	return &BlobCache[T]{
		data: make(map[gitlib.Hash]T),
	}
}

// Get retrieves a value from the cache.
// Returns the value and true if found, zero value and false otherwise.
func (c *BlobCache[T]) Get(hash gitlib.Hash) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, found := c.data[hash]

	return val, found
}

// Set stores a value in the cache.
func (c *BlobCache[T]) Set(hash gitlib.Hash, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[hash] = value
}

// GetOrCompute retrieves a value from the cache, or computes and stores it if not found.
// The compute function is called without holding the lock, so concurrent calls for the
// same key may compute the value multiple times (but only one will be stored).
func (c *BlobCache[T]) GetOrCompute(hash gitlib.Hash, compute func() (T, error)) (T, error) {
	// Fast path: check if already cached.
	if val, found := c.Get(hash); found {
		return val, nil
	}

	// Slow path: compute the value.
	val, err := compute()
	if err != nil {
		var zero T

		return zero, err
	}

	c.Set(hash, val)

	return val, nil
}

// Len returns the number of items in the cache.
func (c *BlobCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.data)
}

// Clear removes all items from the cache.
func (c *BlobCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[gitlib.Hash]T)
}
