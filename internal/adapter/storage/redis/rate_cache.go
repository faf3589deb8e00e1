package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"merchant-wallet-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

const lastKnownRateKey = "rates:btc_usd:last_known"

// RateCache implements ports.RateCache. The last good quote is kept for a week
// so a long upstream outage still has something to fall back on.
type RateCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewRateCache creates a Redis-backed last-known-good rate store.
func NewRateCache(client goredis.UniversalClient) *RateCache {
	return &RateCache{client: client, ttl: 7 * 24 * time.Hour}
}

// GetLastKnown returns the stored rate, or nil when none was ever stored.
func (c *RateCache) GetLastKnown(ctx context.Context) (*domain.ExchangeRate, error) {
	raw, err := c.client.Get(ctx, lastKnownRateKey).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis rate get: %w", err)
	}

	var rate domain.ExchangeRate
	if err := json.Unmarshal(raw, &rate); err != nil {
		return nil, fmt.Errorf("decode cached rate: %w", err)
	}
	return &rate, nil
}

// SetLastKnown stores rate as the fallback quote.
func (c *RateCache) SetLastKnown(ctx context.Context, rate *domain.ExchangeRate) error {
	raw, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("encode rate: %w", err)
	}
	if err := c.client.Set(ctx, lastKnownRateKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis rate set: %w", err)
	}
	return nil
}
