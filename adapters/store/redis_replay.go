package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

const (
	replayPrefix = "ferryman:replay:"

	// DefaultRetention bounds how long consumed tokens and attempts are kept.
	// It must exceed the finality window of every supported chain.
	DefaultRetention = 30 * 24 * time.Hour
)

// Token values are "claimed:<owner>" while in flight and "committed" once
// spent. All transitions run as Lua scripts so two facilitator instances
// cannot both win a claim for the same token.
var (
	claimScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  redis.call('SET', KEYS[1], 'claimed:' .. ARGV[1], 'EX', ARGV[2])
  return 1
end
if v == 'claimed:' .. ARGV[1] then
  return 1
end
return 0
`)

	commitScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
if v == 'committed' then return 1 end
if string.sub(v, 1, 8) == 'claimed:' then
  redis.call('SET', KEYS[1], 'committed', 'EX', ARGV[1])
  return 1
end
return -1
`)

	releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
if v == 'committed' then return 0 end
redis.call('DEL', KEYS[1])
return 1
`)
)

// RedisReplayGuard is a Redis implementation of the ReplayGuard interface,
// safe for horizontally scaled deployments.
type RedisReplayGuard struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisReplayGuard creates a new Redis replay guard. A zero retention
// falls back to DefaultRetention.
func NewRedisReplayGuard(client *redis.Client, retention time.Duration) *RedisReplayGuard {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisReplayGuard{client: client, retention: retention}
}

var _ ports.ReplayGuard = (*RedisReplayGuard)(nil)

func replayKey(token core.ReplayToken) string {
	return replayPrefix + token.Scoped()
}

// TryClaim atomically claims the token for owner.
func (g *RedisReplayGuard) TryClaim(ctx context.Context, token core.ReplayToken, owner string) (bool, error) {
	seconds := int64(g.retention / time.Second)
	res, err := claimScript.Run(ctx, g.client, []string{replayKey(token)}, owner, seconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim token: %w", core.ErrStoreOperationFailed)
	}
	return res == 1, nil
}

// Commit moves a claimed token to committed.
func (g *RedisReplayGuard) Commit(ctx context.Context, token core.ReplayToken) error {
	seconds := int64(g.retention / time.Second)
	res, err := commitScript.Run(ctx, g.client, []string{replayKey(token)}, seconds).Int()
	if err != nil {
		return fmt.Errorf("failed to commit token: %w", core.ErrStoreOperationFailed)
	}
	if res != 1 {
		return fmt.Errorf("commit of unclaimed token %s: %w", token.Scoped(), core.ErrStoreOperationFailed)
	}
	return nil
}

// Release returns a claimed token to unseen. Committed tokens stay committed.
func (g *RedisReplayGuard) Release(ctx context.Context, token core.ReplayToken) error {
	res, err := releaseScript.Run(ctx, g.client, []string{replayKey(token)}).Int()
	if err != nil {
		return fmt.Errorf("failed to release token: %w", core.ErrStoreOperationFailed)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("release of committed token %s: %w", token.Scoped(), core.ErrAlreadySettled)
	default:
		return fmt.Errorf("release of unclaimed token %s: %w", token.Scoped(), core.ErrStoreOperationFailed)
	}
}

// IsCommitted reports whether the token has been committed.
func (g *RedisReplayGuard) IsCommitted(ctx context.Context, token core.ReplayToken) (bool, error) {
	val, err := g.client.Get(ctx, replayKey(token)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read token: %w", core.ErrStoreOperationFailed)
	}
	return val == "committed", nil
}
