package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := Config{Addr: mr.Addr()}
	cfg.SetDefaults()
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestNewClient_GivesUpAfterMaxRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	_, err := NewClient(context.Background(), Config{
		Addr:          addr,
		DialTimeout:   100 * time.Millisecond,
		MaxRetries:    3,
		RetryInterval: 10 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := Config{MaxRetries: 2}
	cfg.SetDefaults()
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryInterval)
	assert.Equal(t, 50, cfg.PoolSize)
}
