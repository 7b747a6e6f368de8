package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredislib.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocker_TryLockOnce(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	first, ok, err := locker.TryLock(ctx, "walletLock:tx_a", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "walletLock:tx_a", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be acquired twice")

	other, ok, err := locker.TryLock(ctx, "walletLock:tx_b", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, first.Unlock(ctx))
	again, ok, err := locker.TryLock(ctx, "walletLock:tx_a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, again.Unlock(ctx))
}

func TestLocker_ExpiresAfterTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	stale, ok, err := locker.TryLock(ctx, "walletLock:user_1:currency_1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	fresh, ok, err := locker.TryLock(ctx, "walletLock:user_1:currency_1", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be taken by someone else")

	// 原持有者釋放時不能刪掉別人的鎖
	assert.Error(t, stale.Unlock(ctx))
	require.NoError(t, fresh.Unlock(ctx))
}

func TestLocker_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewLocker(client)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	handle, ok, _ := locker.TryLock(ctx, "walletLock:tx_down", time.Second)
	assert.False(t, ok)
	assert.Nil(t, handle)
}

func TestCache_GetOrCompute(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewCache(client, nil)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (int64, error) {
		calls++
		return 4200, nil
	}

	v, err := cache.GetOrCompute(ctx, "balance:user_1:currency_1", time.Hour, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), v)

	v, err = cache.GetOrCompute(ctx, "balance:user_1:currency_1", time.Hour, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(4200), v)
	assert.Equal(t, 1, calls)

	raw, err := mr.Get("balance:user_1:currency_1")
	require.NoError(t, err)
	assert.Equal(t, "4200", raw)
	assert.Equal(t, time.Hour, mr.TTL("balance:user_1:currency_1"))

	mr.FastForward(time.Hour + time.Second)
	_, err = cache.GetOrCompute(ctx, "balance:user_1:currency_1", time.Hour, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_Invalidate(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewCache(client, nil)
	ctx := context.Background()

	require.NoError(t, mr.Set("balance:user_1:currency_1", "1"))
	require.NoError(t, mr.Set("balance:user_2:currency_1", "2"))

	require.NoError(t, cache.Invalidate(ctx, "balance:user_1:currency_1", "balance:user_2:currency_1"))
	assert.False(t, mr.Exists("balance:user_1:currency_1"))
	assert.False(t, mr.Exists("balance:user_2:currency_1"))

	require.NoError(t, cache.Invalidate(ctx))
}

func TestCache_FallsBackWhenRedisFails(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewCache(client, nil)
	ctx := context.Background()

	require.NoError(t, mr.Set("balance:user_1:currency_1", "not-a-number"))
	v, err := cache.GetOrCompute(ctx, "balance:user_1:currency_1", time.Minute, func(context.Context) (int64, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	mr.Close()
	v, err = cache.GetOrCompute(ctx, "balance:user_1:currency_1", time.Minute, func(context.Context) (int64, error) {
		return 8, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)

	boom := errors.New("db down")
	_, err = cache.GetOrCompute(ctx, "balance:user_1:currency_1", time.Minute, func(context.Context) (int64, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}
