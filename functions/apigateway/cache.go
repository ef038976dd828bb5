package apigateway

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// blobCache keeps recently served documents for a fixed TTL. A zero TTL
// disables it.
type blobCache struct {
	entries *lru.Cache
	ttl     time.Duration

	mu  sync.Mutex
	now func() time.Time
}

func newBlobCache(size int, ttl time.Duration) (*blobCache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &blobCache{entries: entries, ttl: ttl, now: time.Now}, nil
}

func (c *blobCache) get(key string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if !c.clock().Before(entry.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.data, true
}

func (c *blobCache) put(key string, data []byte) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Add(key, cacheEntry{data: data, expires: c.clock().Add(c.ttl)})
}

func (c *blobCache) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *blobCache) setClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
