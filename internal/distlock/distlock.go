// Package distlock implements a short-TTL distributed lock on top of
// Redis SETNX, shared by the credential refresh broker and the cron
// driver's double-fire suppression.
//
// Grounded directly on common/redis/client.go's SetNX/Delete pair — the
// teacher already uses this exact pattern for idempotency checks; this
// package just gives it a named, reusable lock interface.
package distlock

import (
	"context"
	"time"
)

// RedisClient is the subset of common/redis.Client this package needs.
type RedisClient interface {
	SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Locker acquires and releases short-TTL locks keyed by string.
type Locker struct {
	redis RedisClient
}

// New constructs a Locker over a Redis client.
func New(redis RedisClient) *Locker {
	return &Locker{redis: redis}
}

// TryLock attempts to acquire key for ttl, returning false (not an
// error) if another holder already owns it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.redis.SetNX(ctx, key, "1", ttl)
}

// Unlock releases key. Unlocking a key that already expired is a no-op.
func (l *Locker) Unlock(ctx context.Context, key string) error {
	return l.redis.Delete(ctx, key)
}
