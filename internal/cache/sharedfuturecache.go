package cache

import "sync"

// SharedFutureCache is a process-wide registry of per-object FutureCaches,
// refcounted so that multiple readers opened against the same object share
// one set of in-flight block fetches instead of each issuing its own
// requests. The cache for an object is torn down only when its last
// registered reader unregisters, mirroring ShareCacheFutureManager's
// Counter-based lifecycle.
type SharedFutureCache struct {
	mu       sync.Mutex
	refs     map[string]int
	perObject map[string]*FutureCache
	capacity int
}

// NewSharedFutureCache creates a registry whose per-object FutureCaches are
// each bounded to capacity futures.
func NewSharedFutureCache(capacity int) *SharedFutureCache {
	return &SharedFutureCache{
		refs:      make(map[string]int),
		perObject: make(map[string]*FutureCache),
		capacity:  capacity,
	}
}

// Register increments the refcount for objectKey, creating its FutureCache
// on the first registration, and returns that cache for the caller to use.
func (s *SharedFutureCache) Register(objectKey string) *FutureCache {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[objectKey]++
	fc, ok := s.perObject[objectKey]
	if !ok {
		fc = NewFutureCache(s.capacity)
		s.perObject[objectKey] = fc
	}
	return fc
}

// Unregister decrements the refcount for objectKey. Once it reaches zero,
// the object's FutureCache is dropped and any futures it still tracked are
// abandoned - safe, since no registered reader remains to read the result.
func (s *SharedFutureCache) Unregister(objectKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[objectKey]--
	if s.refs[objectKey] <= 0 {
		delete(s.refs, objectKey)
		if fc, ok := s.perObject[objectKey]; ok {
			fc.Clear()
			delete(s.perObject, objectKey)
		}
	}
}

// RefCount returns the current registration count for objectKey, for tests.
func (s *SharedFutureCache) RefCount(objectKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[objectKey]
}
