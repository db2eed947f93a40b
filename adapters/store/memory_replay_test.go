package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/ferryman/core"
)

func evmToken(nonce string) core.ReplayToken {
	return core.ReplayToken{Scheme: "exact", Network: "eip155:8453", Value: nonce}
}

func TestReplayLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryReplayGuard()
	token := evmToken("0xaaa")

	committed, err := g.IsCommitted(ctx, token)
	require.NoError(t, err)
	assert.False(t, committed)

	ok, err := g.TryClaim(ctx, token, "key-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Same owner may re-claim, a different owner may not.
	ok, err = g.TryClaim(ctx, token, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryClaim(ctx, token, "key-2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Commit(ctx, token))

	committed, err = g.IsCommitted(ctx, token)
	require.NoError(t, err)
	assert.True(t, committed)

	// Commit is idempotent.
	require.NoError(t, g.Commit(ctx, token))
}

func TestReplayCommittedNeverReleased(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryReplayGuard()
	token := evmToken("0xbbb")

	ok, err := g.TryClaim(ctx, token, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Commit(ctx, token))

	err = g.Release(ctx, token)
	assert.ErrorIs(t, err, core.ErrAlreadySettled)

	// Still committed, still unclaimable.
	ok, err = g.TryClaim(ctx, token, "key-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplayReleaseReturnsTokenToUnseen(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryReplayGuard()
	token := evmToken("0xccc")

	ok, err := g.TryClaim(ctx, token, "key-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, g.Release(ctx, token))

	// A different payment may now claim the released token.
	ok, err = g.TryClaim(ctx, token, "key-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayCommitUnclaimedFails(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryReplayGuard()

	assert.Error(t, g.Commit(ctx, evmToken("0xddd")))
	assert.Error(t, g.Release(ctx, evmToken("0xddd")))
}

func TestReplayScopesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryReplayGuard()

	base := core.ReplayToken{Scheme: "exact", Network: "eip155:8453", Value: "0xeee"}
	polygon := core.ReplayToken{Scheme: "exact", Network: "eip155:137", Value: "0xeee"}

	ok, err := g.TryClaim(ctx, base, "key-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.TryClaim(ctx, polygon, "key-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryReplayGuard()
	token := evmToken("0xfff")

	const claimers = 32
	var wg sync.WaitGroup
	winners := make(chan string, claimers)

	for i := 0; i < claimers; i++ {
		owner := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.TryClaim(ctx, token, owner)
			assert.NoError(t, err)
			if ok {
				winners <- owner
			}
		}()
	}
	wg.Wait()
	close(winners)

	assert.Len(t, winners, 1)
}
