package rules

import (
	"context"
	"sync"
	"time"

	"relay/pkg/models"
)

type cacheEntry struct {
	rules     []models.Rule
	expiresAt time.Time
}

// CachedStore is a read-through TTL cache in front of another Store. Config update
// events invalidate a tenant's entries before the TTL runs out.
type CachedStore struct {
	next Store
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]map[string]cacheEntry // tenant -> pattern -> entry
}

func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]cacheEntry),
	}
}

func (c *CachedStore) GetRulesForEvent(ctx context.Context, tenantID, pattern string) ([]models.Rule, error) {
	c.mu.RLock()
	entry, ok := c.entries[tenantID][pattern]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expiresAt) {
		return entry.rules, nil
	}

	rules, err := c.next.GetRulesForEvent(ctx, tenantID, pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	byPattern, ok := c.entries[tenantID]
	if !ok {
		byPattern = make(map[string]cacheEntry)
		c.entries[tenantID] = byPattern
	}
	byPattern[pattern] = cacheEntry{rules: rules, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return rules, nil
}

func (c *CachedStore) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

func (c *CachedStore) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]map[string]cacheEntry)
	c.mu.Unlock()
}
