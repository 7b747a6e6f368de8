package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

// ErrLockNotHeld 釋放時鎖已過期或被其他人取得
var ErrLockNotHeld = errors.New("lock was not held or already expired")

// Locker 以 redsync (RedLock) 實作的分散式鎖
type Locker struct {
	redsync *redsync.Redsync
}

func NewLocker(client goredislib.UniversalClient) *Locker {
	return &Locker{redsync: redsync.New(goredis.NewPool(client))}
}

// TryLock 只嘗試一次，鎖被占用回傳 (nil, false, nil)；網路等非預期錯誤才回傳 error
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (usecase.LockHandle, bool, error) {
	mutex := l.redsync.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if isLockContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("try lock %s: %w", key, err)
	}
	return &lockHandle{mutex: mutex}, true, nil
}

// isLockContention 鎖被占用時 redsync 回傳 ErrFailed 或 "lock already taken"
func isLockContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

type lockHandle struct {
	mutex *redsync.Mutex
}

func (h *lockHandle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("unlock %s: %w", h.mutex.Name(), err)
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}

var _ usecase.Locker = (*Locker)(nil)
