package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luizcarelo/nps-saas/pkg/utils"
)

// Limiter caps how many dispatch batches a tenant may run at once.
// Acquire returns false when the tenant is at its limit.
type Limiter interface {
	Acquire(ctx context.Context, tenantID string) (bool, error)
	Release(ctx context.Context, tenantID string) error
}

// RedisLimiter enforces the cap across instances. The TTL covers the
// longest plausible batch so a crashed instance cannot hold a slot
// forever.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 2
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) key(tenantID string) string {
	return "dispatch:batches:" + tenantID
}

func (l *RedisLimiter) Acquire(ctx context.Context, tenantID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key(tenantID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, tenantID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key(tenantID))
}
