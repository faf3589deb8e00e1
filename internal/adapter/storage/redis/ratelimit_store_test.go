package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitStore_Allow(t *testing.T) {
	s, client := newTestClient(t)
	store := NewRateLimitStore(client)
	fixed := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			result, err := store.Allow(ctx, "merchant1:storefront", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "request %d should be allowed", i)
			assert.Equal(t, int64(3), result.Limit)
			assert.Equal(t, 3-i, result.Remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		result, err := store.Allow(ctx, "merchant1:storefront", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(0), result.Remaining)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		result, err := store.Allow(ctx, "merchant2:storefront", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(4), result.Remaining)
	})

	t.Run("counter key expires", func(t *testing.T) {
		_, err := store.Allow(ctx, "merchant3:auth", 1, time.Minute)
		require.NoError(t, err)

		windowKey := "ratelimit:merchant3:auth:" + itoa(fixed.Unix()/60)
		require.True(t, s.Exists(windowKey))
		assert.Equal(t, 61*time.Second, s.TTL(windowKey))
	})

	t.Run("next window resets", func(t *testing.T) {
		store.now = func() time.Time { return fixed.Add(time.Minute) }
		result, err := store.Allow(ctx, "merchant1:storefront", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, (fixed.Unix()/60+2)*60, result.ResetAt)
	})
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
