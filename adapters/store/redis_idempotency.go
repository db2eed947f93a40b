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

const idempotencyPrefix = "ferryman:idem:"

// RedisIdempotencyStore is a Redis implementation of the IdempotencyStore
// interface. Binding uses SETNX so the first writer wins across processes.
type RedisIdempotencyStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisIdempotencyStore creates a new Redis idempotency store. A zero
// retention falls back to DefaultRetention.
func NewRedisIdempotencyStore(client *redis.Client, retention time.Duration) *RedisIdempotencyStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisIdempotencyStore{client: client, retention: retention}
}

var _ ports.IdempotencyStore = (*RedisIdempotencyStore)(nil)

// Lookup returns the record bound to id.
func (s *RedisIdempotencyStore) Lookup(ctx context.Context, id string) (*core.IdempotencyRecord, error) {
	val, err := s.client.Get(ctx, idempotencyPrefix+id).Result()
	if err == redis.Nil {
		return nil, core.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency record: %w", core.ErrStoreOperationFailed)
	}

	var record core.IdempotencyRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &record, nil
}

// Bind stores the record for id, first-write-wins. A different payload hash
// under the same id is a conflict.
func (s *RedisIdempotencyStore) Bind(ctx context.Context, id string, record *core.IdempotencyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, idempotencyPrefix+id, data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to bind idempotency record: %w", core.ErrStoreOperationFailed)
	}
	if ok {
		return nil
	}

	existing, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if existing.PayloadHash != record.PayloadHash {
		return core.ErrIdempotencyConflict
	}
	return nil
}
