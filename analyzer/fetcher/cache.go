package fetcher

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/govscope/govscope/analyzer/types"
)

// cacheEntry is a cached normalized result together with the tier of the
// source that produced it. Expiry is checked on read; the LRU handles
// capacity eviction.
type cacheEntry struct {
	value      interface{}
	provenance types.Provenance
	warnings   []string
	expires    time.Time
}

// responseCache memoizes normalized per-kind results so repeated analyses
// inside a TTL window do not re-hit external sources.
type responseCache struct {
	entries *lru.Cache
}

func newResponseCache(maxEntries int) (*responseCache, error) {
	entries, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	return &responseCache{entries: entries}, nil
}

// get returns a live entry, dropping it when expired.
func (c *responseCache) get(key string) (*cacheEntry, bool) {
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(*cacheEntry)
	if time.Now().After(entry.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	return entry, true
}

func (c *responseCache) put(key string, entry *cacheEntry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry.expires = time.Now().Add(ttl)
	c.entries.Add(key, entry)
}

// cacheKey identifies a normalized result by kind, protocol and the request
// window truncated to the minute, so nearby reference times share entries.
func cacheKey(kind, protocolID string, at time.Time, extra string) string {
	return fmt.Sprintf("%s|%s|%d|%s", kind, protocolID, at.UTC().Truncate(time.Minute).Unix(), extra)
}
