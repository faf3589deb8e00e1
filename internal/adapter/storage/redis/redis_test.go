package redis

import (
	"context"
	"fmt"
	"testing"

	"merchant-wallet-ledger/config"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestNewClient(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := config.RedisConfig{Host: s.Host(), Port: mustPort(t, s)}

	client, err := NewClient(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, NewHealthCheck(client).Ping(context.Background()))
}

func TestNewClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := config.RedisConfig{Host: s.Host(), Port: mustPort(t, s)}
	s.Close()

	_, err := NewClient(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestHealthCheck_Name(t *testing.T) {
	_, client := newTestClient(t)
	assert.Equal(t, "redis", NewHealthCheck(client).Name())
}

func mustPort(t *testing.T, s *miniredis.Miniredis) int {
	t.Helper()
	var port int
	_, err := fmt.Sscanf(s.Port(), "%d", &port)
	require.NoError(t, err)
	return port
}
