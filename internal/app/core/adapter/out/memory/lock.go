package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

// ErrLockNotHeld 鎖已過期或被其他人取得
var ErrLockNotHeld = errors.New("lock was not held or already expired")

type heldLock struct {
	token     uuid.UUID
	expiresAt time.Time
}

// Locker 單一程序內的 TTL 鎖，語意與 Redis 版相同 (只試一次、過期即釋放)
type Locker struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

func NewLocker() *Locker {
	return &Locker{
		locks: make(map[string]heldLock),
		now:   time.Now,
	}
}

// TryLock 嘗試取得鎖，已被持有且未過期時回傳 false
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (usecase.LockHandle, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}
	token := uuid.New()
	l.locks[key] = heldLock{token: token, expiresAt: now.Add(ttl)}
	return &lockHandle{locker: l, key: key, token: token}, true, nil
}

type lockHandle struct {
	locker *Locker
	key    string
	token  uuid.UUID
}

// Unlock 只釋放自己持有的鎖 (過期後被別人取得的不動)
func (h *lockHandle) Unlock(ctx context.Context) error {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.locks[h.key]; ok && held.token == h.token {
		delete(l.locks, h.key)
		return nil
	}
	return ErrLockNotHeld
}

var _ usecase.Locker = (*Locker)(nil)
