package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient 建立並回傳 Redis 客戶端，連線失敗時重試
//
// 參數:
//
//	ctx: 上下文
//	cfg: Config - Redis 連線配置
//
// 回傳值:
//
//	*redis.Client: Redis 客戶端
//	error: 若重試後仍無法連線則回傳錯誤
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	maxRetries := max(cfg.MaxRetries, 1)
	retryInterval := cfg.RetryInterval

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, err)
}
