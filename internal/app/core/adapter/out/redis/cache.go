package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

// Cache 以 Redis 存放餘額快取
// Redis 讀寫失敗時退回直接計算 (資料庫為準)，不讓快取故障影響查詢
type Cache struct {
	client goredislib.UniversalClient
	logger *zap.Logger
}

func NewCache(client goredislib.UniversalClient, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, logger: logger}
}

// GetOrCompute 命中直接回傳，miss 時呼叫 compute 並以 ttl 寫入
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (int64, error)) (int64, error) {
	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		value, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr == nil {
			return value, nil
		}
		c.logger.Warn("corrupted cache value", zap.String("key", key), zap.String("value", raw))
	case errors.Is(err, goredislib.Nil):
	default:
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}

	value, err := compute(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.client.Set(ctx, key, strconv.FormatInt(value, 10), ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}

// Invalidate 刪除 key
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

var _ usecase.Cache = (*Cache)(nil)
