package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

type cacheItem struct {
	value     int64
	expiresAt time.Time
}

// Cache 單一程序內的餘額快取
type Cache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
	now   func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		items: make(map[string]cacheItem),
		now:   time.Now,
	}
}

// GetOrCompute 命中直接回傳，miss 時呼叫 compute 並寫入
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (int64, error)) (int64, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if ok && c.now().Before(item.expiresAt) {
		return item.value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.items[key] = cacheItem{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return value, nil
}

// Invalidate 刪除 key
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}

var _ usecase.Cache = (*Cache)(nil)
