package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"merchant-wallet-ledger/internal/adapter/http/middleware"
	redisStore "merchant-wallet-ledger/internal/adapter/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func setupRateLimitRouter(store middleware.Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	rule := middleware.RateLimitRule{Limit: 3, Window: time.Minute}
	r.GET("/test", middleware.RateLimiter(store, "test", rule, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func newStore(t *testing.T) *redisStore.RateLimitStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisStore.NewRateLimitStore(client)
}

func get(router http.Handler, accessKey string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/test", nil)
	if accessKey != "" {
		req.Header.Set(middleware.HeaderAccessKey, accessKey)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	router := setupRateLimitRouter(newStore(t))

	for i := range 3 {
		w := get(router, "")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i+1)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	router := setupRateLimitRouter(newStore(t))

	for range 3 {
		assert.Equal(t, http.StatusOK, get(router, "").Code)
	}

	w := get(router, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_001")
}

func TestRateLimiter_UsesAccessKeyHeader(t *testing.T) {
	router := setupRateLimitRouter(newStore(t))

	for range 3 {
		assert.Equal(t, http.StatusOK, get(router, "merchantA").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(router, "merchantA").Code)

	// Merchant B keeps an independent counter.
	assert.Equal(t, http.StatusOK, get(router, "merchantB").Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int64, time.Duration) (*redisStore.RateLimitResult, error) {
	return nil, errors.New("redis unavailable")
}

func TestRateLimiter_StoreFailureAllowsRequest(t *testing.T) {
	router := setupRateLimitRouter(brokenLimiter{})

	w := get(router, "merchantA")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestDefaultRateLimitRules(t *testing.T) {
	rules := middleware.DefaultRateLimitRules()
	assert.Equal(t, int64(120), rules["storefront"].Limit)
	assert.Equal(t, int64(10), rules["auth_login"].Limit)
	assert.Equal(t, int64(5), rules["auth_register"].Limit)
	assert.Equal(t, time.Hour, rules["auth_register"].Window)
	assert.Equal(t, int64(60), rules["dashboard"].Limit)
	assert.Equal(t, int64(120), rules["admin"].Limit)
	assert.Equal(t, int64(30), rules["admin_ingest"].Limit)
}
