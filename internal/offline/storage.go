// Package offline implements the request-interception cache layer that keeps
// the public site usable without a network: every request is classified and
// served with a per-class cache strategy, and cache generations from prior
// deploys are garbage-collected on activation.
package offline

import (
	"net/http"
	"sync"
)

// CachedResponse is a stored response, addressable by request URL.
type CachedResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *CachedResponse) clone() *CachedResponse {
	copied := &CachedResponse{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   make([]byte, len(r.Body)),
	}
	copy(copied.Body, r.Body)
	return copied
}

func (r *CachedResponse) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// Cache is one named partition of a generation (static, dynamic, or images).
// There is no per-entry eviction; the whole generation is replaced on deploy.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
}

func newCache() *Cache {
	return &Cache{entries: make(map[string]*CachedResponse)}
}

func (c *Cache) Get(key string) (*CachedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

func (c *Cache) Put(key string, response *CachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = response.clone()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Storage holds every cache partition across generations, keyed by partition
// name. It is the Go analogue of the browser's CacheStorage.
type Storage struct {
	mu     sync.Mutex
	caches map[string]*Cache
}

func NewStorage() *Storage {
	return &Storage{caches: make(map[string]*Cache)}
}

// Open returns the named cache, creating it if absent.
func (s *Storage) Open(name string) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache, ok := s.caches[name]
	if !ok {
		cache = newCache()
		s.caches[name] = cache
	}
	return cache
}

// Names enumerates every existing partition.
func (s *Storage) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	return names
}

// Delete removes a partition and everything in it.
func (s *Storage) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, name)
}

// Has reports whether a partition exists.
func (s *Storage) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok
}
