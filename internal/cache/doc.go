/*
Package cache provides the block-level caching primitives shared by the
prefetch reader and the shared-reader pool: a request-coalescing future
cache and an LRU byte-range cache.

# FutureCache

FutureCache deduplicates concurrent fetches of the same block index: the
first caller to ask for a block index submits the fetch and every
subsequent caller for that same index, arriving before the fetch
completes, blocks on the same Future instead of issuing its own request.

	fc := cache.NewFutureCache(maxInFlight)
	future := fc.GetOrSubmit(ctx, blockIndex, func(ctx context.Context) ([]byte, error) {
		return fetchBlock(ctx, blockIndex)
	})
	data, err := future.Wait(ctx)

GetOrSubmit only calls fetch for the first caller asking about a given
block index; every other caller for that same index, arriving before the
fetch completes, gets back the same *Future without fetch running again.
Cancel forgets a pending entry without waiting for it (used when a reader
seeks away from a block it prefetched but never consumed); evictLocked
caps the number of tracked futures so a reader racing far ahead of its
consumers can't grow this map without bound.

SharedFutureCache (sharedfuturecache.go) is the same coalescing behavior
keyed additionally by object identity, for internal/prefetch's SharedReader
pool where multiple readers over the same object share one cache instead
of each reader keeping its own.

# LRUCache

LRUCache is a byte-range cache keyed by (key, offset, size) that evicts the
least-recently-used entries once its size or entry limit is exceeded
(WeightedLRUCache adds an explicit EvictByWeight), used where a component
wants to retain already-fetched bytes across reads rather than only
deduplicating in-flight ones.

	c := cache.NewLRUCache(&cache.CacheConfig{MaxSize: 64 << 20})
	c.Put(key, offset, data)
	if cached := c.Get(key, offset, size); cached != nil {
		// serve from cache
	}

# Thread Safety

Both FutureCache and LRUCache are safe for concurrent use; FutureCache's
coalescing is the mechanism that keeps concurrent reads of the same block
down to one fetch rather than one per waiting goroutine.
*/
package cache
