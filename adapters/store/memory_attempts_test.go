package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/ferryman/core"
)

func pendingAttempt(key string) *core.SettlementAttempt {
	now := time.Now()
	return &core.SettlementAttempt{
		ID:          "attempt-" + key,
		PaymentKey:  key,
		State:       core.AttemptPending,
		Scheme:      "exact",
		Network:     "eip155:8453",
		ReplayToken: "0xnonce",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestAttemptCreateIsCheckAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAttemptStore()

	created, err := s.Create(ctx, pendingAttempt("k1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Create(ctx, pendingAttempt("k1"))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestAttemptGetUnknownKey(t *testing.T) {
	s := NewMemoryAttemptStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrAttemptNotFound)
}

func TestAttemptUpdateTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAttemptStore()

	attempt := pendingAttempt("k2")
	_, err := s.Create(ctx, attempt)
	require.NoError(t, err)

	attempt.State = core.AttemptCommitted
	attempt.TxRef = "0xdeadbeef"
	require.NoError(t, s.Update(ctx, attempt))

	got, err := s.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, core.AttemptCommitted, got.State)
	assert.Equal(t, "0xdeadbeef", got.TxRef)

	// Terminal attempts are immutable.
	attempt.State = core.AttemptFailed
	assert.Error(t, s.Update(ctx, attempt))
}

func TestAttemptSweepKeepsPendingAndRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAttemptStore()

	old := pendingAttempt("old")
	old.State = core.AttemptCommitted
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	s.attempts[old.PaymentKey] = *old

	stillPending := pendingAttempt("pending")
	stillPending.UpdatedAt = time.Now().Add(-48 * time.Hour)
	s.attempts[stillPending.PaymentKey] = *stillPending

	recent := pendingAttempt("recent")
	recent.State = core.AttemptFailed
	_, err := s.Create(ctx, recent)
	require.NoError(t, err)

	removed := s.Sweep(24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, core.ErrAttemptNotFound)
	_, err = s.Get(ctx, "pending")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "recent")
	assert.NoError(t, err)
}
