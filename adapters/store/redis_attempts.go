package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/ferryman/core"
	"github.com/layer-3/ferryman/ports"
)

const attemptPrefix = "ferryman:attempt:"

var (
	createAttemptScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`)

	// Updates are only accepted while the stored attempt is still pending,
	// so a terminal attempt can never be rewritten by a racing process.
	updateAttemptScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
local cur = cjson.decode(v)
if cur.state ~= 'pending' then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`)
)

// RedisAttemptStore is a Redis implementation of the AttemptStore interface.
// Attempts expire after the retention window instead of being deleted
// synchronously.
type RedisAttemptStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisAttemptStore creates a new Redis attempt store. A zero retention
// falls back to DefaultRetention.
func NewRedisAttemptStore(client *redis.Client, retention time.Duration) *RedisAttemptStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisAttemptStore{client: client, retention: retention}
}

var _ ports.AttemptStore = (*RedisAttemptStore)(nil)

// Create stores the attempt unless one already exists for its payment key.
func (s *RedisAttemptStore) Create(ctx context.Context, attempt *core.SettlementAttempt) (bool, error) {
	data, err := json.Marshal(attempt)
	if err != nil {
		return false, fmt.Errorf("failed to marshal attempt: %w", err)
	}

	seconds := int64(s.retention / time.Second)
	res, err := createAttemptScript.Run(ctx, s.client, []string{attemptPrefix + attempt.PaymentKey}, data, seconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to create attempt: %w", core.ErrStoreOperationFailed)
	}
	return res == 1, nil
}

// Get returns the attempt for a payment key.
func (s *RedisAttemptStore) Get(ctx context.Context, paymentKey string) (*core.SettlementAttempt, error) {
	val, err := s.client.Get(ctx, attemptPrefix+paymentKey).Result()
	if err == redis.Nil {
		return nil, core.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read attempt: %w", core.ErrStoreOperationFailed)
	}

	var attempt core.SettlementAttempt
	if err := json.Unmarshal([]byte(val), &attempt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attempt: %w", err)
	}
	return &attempt, nil
}

// Update overwrites the stored attempt while it is still pending.
func (s *RedisAttemptStore) Update(ctx context.Context, attempt *core.SettlementAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	seconds := int64(s.retention / time.Second)
	res, err := updateAttemptScript.Run(ctx, s.client, []string{attemptPrefix + attempt.PaymentKey}, data, seconds).Int()
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", core.ErrStoreOperationFailed)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("attempt %s is already terminal: %w", attempt.PaymentKey, core.ErrStoreOperationFailed)
	default:
		return core.ErrAttemptNotFound
	}
}
