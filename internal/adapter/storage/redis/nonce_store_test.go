package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceStore_CheckAndSet(t *testing.T) {
	s, client := newTestClient(t)
	store := NewNonceStore(client)
	ctx := context.Background()

	ok, err := store.CheckAndSet(ctx, "merchant-1", "nonce-abc", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "new nonce should return true")

	ok, err = store.CheckAndSet(ctx, "merchant-1", "nonce-abc", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "replayed nonce should return false")

	ok, err = store.CheckAndSet(ctx, "merchant-2", "nonce-abc", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "same nonce for another merchant is independent")

	s.FastForward(6 * time.Minute)
	ok, err = store.CheckAndSet(ctx, "merchant-1", "nonce-abc", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired nonce should be accepted again")
}
