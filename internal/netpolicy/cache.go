package netpolicy

import (
	"context"
	"sync"
	"time"
)

// Cache holds generated policies keyed by tenant. Get returns (nil, nil)
// on a miss; expiry is the cache's job, callers never see stale entries.
type Cache interface {
	Get(ctx context.Context, tenantID string) (*Policy, error)
	Set(ctx context.Context, tenantID string, policy *Policy, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string) error
}

type memoryEntry struct {
	policy    *Policy
	expiresAt time.Time
}

// MemoryCache is a process-local Cache for single-node deployments and
// tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, tenantID string) (*Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[tenantID]
	if !ok {
		return nil, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, tenantID)
		return nil, nil
	}
	return e.policy, nil
}

func (c *MemoryCache) Set(_ context.Context, tenantID string, policy *Policy, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = memoryEntry{policy: policy, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
	return nil
}
