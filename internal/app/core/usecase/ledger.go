package usecase

import (
	"context"
	"time"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// Store 帳務資料的交易式儲存
type Store interface {
	// Transaction 在同一個資料庫交易內執行 fn，fn 回傳錯誤則整筆 rollback
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// AccountBalance 讀取帳戶餘額，帳戶不存在回傳 0 (不上鎖)
	AccountBalance(ctx context.Context, key domain.AccountKey) (int64, error)
	// ListBalances 取得擁有者所有帳戶 (含幣別資訊)
	ListBalances(ctx context.Context, ownerID int64) ([]domain.Balance, error)
	// CurrencyTotals 某幣別一般帳戶與技術帳戶的餘額總和
	CurrencyTotals(ctx context.Context, currencyID int64) (domain.Totals, error)
}

// Tx 交易內可用的操作
type Tx interface {
	// LockAccount find-or-create 並取得該列的排他鎖 (SELECT ... FOR UPDATE)
	LockAccount(ctx context.Context, key domain.AccountKey) (*domain.Account, error)
	// SaveAccount 寫回餘額
	SaveAccount(ctx context.Context, account *domain.Account) error
	// FindEntry 以 client_tx_id 查詢分錄，不存在回傳 nil, nil
	FindEntry(ctx context.Context, clientTxID string) (*domain.LedgerEntry, error)
	// CreateEntry 新增分錄與拆帳，client_tx_id 重複回傳 domain.ErrDuplicateEntry
	CreateEntry(ctx context.Context, entry *domain.LedgerEntry, postings []domain.Posting) error
}

// LockHandle 已取得的鎖
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// Locker 分散式鎖，TryLock 只嘗試一次不排隊
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (LockHandle, bool, error)
}

// Cache 餘額快取
type Cache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (int64, error)) (int64, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// EventPublisher 提交後的事件發送
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
