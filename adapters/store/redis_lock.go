package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

const (
	lockPrefix = "ferryman:lock:"

	// DefaultLockTTL bounds how long a crashed holder can block a payment
	// key. It must exceed the settlement timeout so a live holder never
	// loses its lock mid-broadcast.
	DefaultLockTTL = 3 * time.Minute

	lockRetryInterval = 50 * time.Millisecond
)

// Each lock value is a random token so a release can never delete a lock
// acquired by someone else after this holder's TTL expired.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisKeyLock is a Redis implementation of the KeyLock interface. It extends
// per-payment-key mutual exclusion across every facilitator instance sharing
// the Redis backend.
type RedisKeyLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKeyLock creates a new Redis key lock. A zero ttl falls back to
// DefaultLockTTL.
func NewRedisKeyLock(client *redis.Client, ttl time.Duration) *RedisKeyLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisKeyLock{client: client, ttl: ttl}
}

var _ ports.KeyLock = (*RedisKeyLock)(nil)

// Acquire polls SET NX until the key's lock is held or ctx is done.
func (l *RedisKeyLock) Acquire(ctx context.Context, key string) (func(), error) {
	holder := uuid.New().String()
	redisKey := lockPrefix + key

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, holder, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire key lock: %w", core.ErrStoreOperationFailed)
		}
		if ok {
			return func() {
				// Release must run even when the caller's context is
				// already cancelled.
				if err := unlockScript.Run(context.Background(), l.client, []string{redisKey}, holder).Err(); err != nil {
					fmt.Printf("Warning: failed to release key lock %s: %v\n", key, err)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
