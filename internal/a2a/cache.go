package a2a

import (
	"context"
	"sync"
	"time"
)

// Cache caches AgentCards by URL with a TTL. A stale entry is still
// returned immediately while a refresh happens in the background
// (stale-while-revalidate): card refresh never blocks the request path.
type Cache struct {
	fetcher *Fetcher
	ttl time.Duration

	mu sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	mu sync.Mutex // per-URL refresh lock
	card *AgentCard
	fetchedAt time.Time
	refreshing bool
}

// NewCache builds a Cache with the given fetcher and TTL.
func NewCache(fetcher *Fetcher, ttl time.Duration) *Cache {
	return &Cache{fetcher: fetcher, ttl: ttl, entries: make(map[string]*cacheEntry)}
}

// Get returns the cached card for url, fetching synchronously on a cold
// cache and triggering a non-blocking background refresh when stale.
func (c *Cache) Get(ctx context.Context, url string) (*AgentCard, error) {
	c.mu.Lock()
	entry, ok := c.entries[url]
	if !ok {
		entry = &cacheEntry{}
		c.entries[url] = entry
	}
	c.mu.Unlock()

	entry.mu.Lock()
	if entry.card == nil {
		card, err := c.fetcher.Fetch(ctx, url)
		entry.mu.Unlock()
		if err != nil {
			return nil, err
		}
		entry.mu.Lock()
		entry.card = card
		entry.fetchedAt = time.Now()
		entry.mu.Unlock()
		return card, nil
	}

	card := entry.card
	stale := time.Since(entry.fetchedAt) > c.ttl
	shouldRefresh := stale && !entry.refreshing
	if shouldRefresh {
		entry.refreshing = true
	}
	entry.mu.Unlock()

	if shouldRefresh {
		go c.refresh(url, entry)
	}

	return card, nil
}

func (c *Cache) refresh(url string, entry *cacheEntry) {
	// Detached from the request's context: a background refresh must not
	// be cancelled by the request that triggered it.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	card, err := c.fetcher.Fetch(ctx, url)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.refreshing = false
	if err == nil {
		entry.card = card
		entry.fetchedAt = time.Now()
	}
}

// Invalidate drops any cached entry for url, forcing the next Get to
// fetch synchronously.
func (c *Cache) Invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
}

// ProbeInvocationEndpoint forwards to the underlying fetcher's best-effort
// reachability probe.
func (c *Cache) ProbeInvocationEndpoint(ctx context.Context, endpoint string) bool {
	return c.fetcher.ProbeInvocationEndpoint(ctx, endpoint)
}
