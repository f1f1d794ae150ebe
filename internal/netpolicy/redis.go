package netpolicy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares generated policies across nodes, letting Redis expire
// entries by TTL.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func policyKey(tenantID string) string {
	return "netpolicy:" + tenantID
}

func (c *RedisCache) Get(ctx context.Context, tenantID string) (*Policy, error) {
	raw, err := c.client.Get(ctx, policyKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached policy: %w", err)
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode cached policy: %w", err)
	}
	return &p, nil
}

func (c *RedisCache) Set(ctx context.Context, tenantID string, policy *Policy, ttl time.Duration) error {
	raw, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := c.client.Set(ctx, policyKey(tenantID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache policy: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, policyKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("evict cached policy: %w", err)
	}
	return nil
}
