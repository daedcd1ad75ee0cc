package redis

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"

	"ledger-settlement-engine/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func miniredisConfig(t *testing.T, mr *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 4, DialTimeout: time.Second}
}

func TestNewClient_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	var buf bytes.Buffer

	client, err := NewClient(context.Background(), miniredisConfig(t, mr), zerolog.New(&buf))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 4, client.Options().PoolSize)
	assert.Contains(t, buf.String(), "Redis connection established")
	assert.Contains(t, buf.String(), mr.Addr())
}

func TestNewClient_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := miniredisConfig(t, mr)
	mr.Close()

	client, err := NewClient(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), cfg.Addr())
}

func TestHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), miniredisConfig(t, mr), zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	h := NewHealthCheck(client)
	assert.Equal(t, "redis", h.Name())
	assert.NoError(t, h.Ping(context.Background()))

	mr.Close()
	assert.Error(t, h.Ping(context.Background()))
}
