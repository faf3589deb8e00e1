package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

//go:embed lua/fixed_window.lua
var luaFixedWindow string

// RateLimitStore implements fixed-window request counters backed by Redis.
type RateLimitStore struct {
	client goredis.UniversalClient
	script *goredis.Script
	prefix string
	now    func() time.Time
}

// NewRateLimitStore creates a new Redis-backed rate limit store.
func NewRateLimitStore(client goredis.UniversalClient) *RateLimitStore {
	return &RateLimitStore{
		client: client,
		script: goredis.NewScript(luaFixedWindow),
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// Allow counts one request against key in the current window.
// INCR and the first-hit expiry run in one script so a crash between them
// cannot leave a counter without a TTL.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	windowSecs := int64(window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	windowID := s.now().Unix() / windowSecs
	redisKey := fmt.Sprintf("%s%s:%d", s.prefix, key, windowID)

	ttl := time.Duration(windowSecs)*time.Second + time.Second
	count, err := s.script.Run(ctx, s.client, []string{redisKey}, ttl.Milliseconds()).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit incr: %w", err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   (windowID + 1) * windowSecs,
	}, nil
}
