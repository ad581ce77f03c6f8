package cluster

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
)

// CacheKey identifies one decompressed cluster across every pack a reader
// has open.
type CacheKey struct {
	PackID      uuid.UUID
	ClusterIdx  int
}

// Cache is a bounded, shared cache of decompressed clusters. Entries are
// immutable once inserted, so a *Stream handed out by Get may be read
// concurrently by any number of callers without further locking.
type Cache struct {
	inner *lru.Cache[CacheKey, *Stream]
}

// NewCache builds a cache holding at most capacity decompressed clusters.
func NewCache(capacity int) (*Cache, error) {
	inner, err := lru.New[CacheKey, *Stream](capacity)
	if err != nil {
		return nil, err
	}

	return &Cache{inner: inner}, nil
}

// Get returns the stream cached for key, if any.
func (c *Cache) Get(key CacheKey) (*Stream, bool) {
	return c.inner.Get(key)
}

// Put installs stream under key, evicting the least recently used entry if
// the cache is at capacity.
func (c *Cache) Put(key CacheKey, stream *Stream) {
	c.inner.Add(key, stream)
}
