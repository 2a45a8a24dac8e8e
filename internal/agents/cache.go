package agents

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/chatform/internal/domain"
)

// CachingProvider memoizes successful lookups for a fixed TTL. Failures
// and misses are never cached. Callers receive their own copy.
type CachingProvider struct {
	inner Provider
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	cfg     *domain.AgentConfig
	expires time.Time
}

// NewCachingProvider wraps inner with a TTL cache. A non-positive TTL
// disables caching.
func NewCachingProvider(inner Provider, ttl time.Duration) *CachingProvider {
	return &CachingProvider{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get implements Provider.
func (c *CachingProvider) Get(ctx context.Context, id string) (*domain.AgentConfig, error) {
	if c.ttl <= 0 {
		return c.inner.Get(ctx, id)
	}

	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.cfg.Clone(), nil
	}
	delete(c.entries, id)
	c.mu.Unlock()

	cfg, err := c.inner.Get(ctx, id)
	if err != nil || cfg == nil {
		return cfg, err
	}

	c.mu.Lock()
	c.entries[id] = cacheEntry{cfg: cfg.Clone(), expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return cfg, nil
}

// Invalidate drops a cached entry, e.g. after an agent is edited.
func (c *CachingProvider) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
