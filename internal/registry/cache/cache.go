// Package cache keeps registry policy lookups in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certo/internal/registry"
	"certo/pkg/platform/sentinel"
)

const keyPrefix = "certo:registry:policy:"

// RedisCache stores policies as JSON under a TTL.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) GetPolicy(ctx context.Context, policyNumber string) (*registry.Policy, error) {
	raw, err := c.client.Get(ctx, keyPrefix+policyNumber).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached policy: %w", err)
	}
	var p registry.Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		// unreadable entry, treat as a miss so it gets overwritten
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (c *RedisCache) SetPolicy(ctx context.Context, p *registry.Policy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+p.PolicyNumber, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached policy: %w", err)
	}
	return nil
}
