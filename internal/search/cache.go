package search

import (
	"fmt"
	"sync"
	"time"

	"github.com/miraihub/mirai-gateway/internal/metrics"
)

// resultCache is a TTL cache of search result sets, keyed by query and
// requested result count. Entries are process-lifetime state shared by all
// concurrent turns.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	results    []Result
	insertedAt time.Time
}

func newResultCache(ttl time.Duration, now func() time.Time) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

func cacheKey(query string, maxResults int) string {
	return fmt.Sprintf("%s|%d", query, maxResults)
}

// get returns the cached results for the key if present and unexpired.
// An expired entry is removed on lookup, never returned.
func (c *resultCache) get(query string, maxResults int) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query, maxResults)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) >= c.ttl {
		delete(c.entries, key)
		metrics.SearchCacheSize.Set(float64(len(c.entries)))
		return nil, false
	}
	return entry.results, true
}

func (c *resultCache) put(query string, maxResults int, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(query, maxResults)] = cacheEntry{
		results:    results,
		insertedAt: c.now(),
	}
	metrics.SearchCacheSize.Set(float64(len(c.entries)))
}

// sweep removes every expired entry and returns how many were dropped.
func (c *resultCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := c.now()
	for key, entry := range c.entries {
		if cutoff.Sub(entry.insertedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	metrics.SearchCacheSize.Set(float64(len(c.entries)))
	return removed
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
