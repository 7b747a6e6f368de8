package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

const (
	// DefaultCacheTTL 餘額快取存活時間
	DefaultCacheTTL = time.Hour
	// DefaultLockTTL 鎖的存活時間，持有者掛掉後最多卡住其他人這麼久
	DefaultLockTTL = 10 * time.Second
	// MaxClientTxIDLength 對應 ledger_entries.client_tx_id 欄位長度
	MaxClientTxIDLength = 255
)

// LockScope 決定鎖的粒度
type LockScope uint8

const (
	// LockScopeOperation 以 client_tx_id 上單一把鎖 (預設)
	LockScopeOperation LockScope = iota
	// LockScopeAccount 每個參與帳戶各一把鎖，依 key 排序取得
	LockScopeAccount
)

func (s LockScope) String() string {
	if s == LockScopeAccount {
		return "account"
	}
	return "operation"
}

// ParseLockScope 設定檔字串轉 LockScope
func ParseLockScope(s string) (LockScope, error) {
	switch s {
	case "", "operation":
		return LockScopeOperation, nil
	case "account":
		return LockScopeAccount, nil
	}
	return LockScopeOperation, domain.InvalidArgument("unknown lock scope %q", s)
}

// EngineOption BalanceEngine 的設定選項
type EngineOption func(*BalanceEngine)

func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *BalanceEngine) {
		if ttl > 0 {
			e.cacheTTL = ttl
		}
	}
}

func WithLockTTL(ttl time.Duration) EngineOption {
	return func(e *BalanceEngine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

func WithLockScope(scope LockScope) EngineOption {
	return func(e *BalanceEngine) {
		e.lockScope = scope
	}
}

// WithPublisher 提交後發送事件 (可選)
func WithPublisher(publisher EventPublisher) EngineOption {
	return func(e *BalanceEngine) {
		e.publisher = publisher
	}
}

func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *BalanceEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock 測試用，替換分錄時間來源
func WithClock(now func() time.Time) EngineOption {
	return func(e *BalanceEngine) {
		e.now = now
	}
}

// BalanceEngine 餘額異動核心
//
// 流程:
//
//	取鎖 (TryLock，只試一次) -> Store.Transaction { 冪等檢查/保留 client_tx_id -> 鎖帳戶列 -> 計算新餘額 -> 寫回 } -> 清快取 -> 釋放鎖
type BalanceEngine struct {
	store     Store
	locker    Locker
	cache     Cache
	resolver  *AccountResolver
	publisher EventPublisher
	logger    *zap.Logger

	cacheTTL  time.Duration
	lockTTL   time.Duration
	lockScope LockScope
	now       func() time.Time
}

// NewBalanceEngine 建立 BalanceEngine
//
// 參數:
//
//	store: 交易式儲存
//	locker: 分散式鎖
//	cache: 餘額快取
//	opts: 其他選項
func NewBalanceEngine(store Store, locker Locker, cache Cache, opts ...EngineOption) *BalanceEngine {
	e := &BalanceEngine{
		store:     store,
		locker:    locker,
		cache:     cache,
		resolver:  NewAccountResolver(store),
		logger:    zap.NewNop(),
		cacheTTL:  DefaultCacheTTL,
		lockTTL:   DefaultLockTTL,
		lockScope: LockScopeOperation,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolver 回傳共用的 AccountResolver
func (e *BalanceEngine) Resolver() *AccountResolver {
	return e.resolver
}

// ApplyDelta 對使用者帳戶加減餘額 (正數存入、負數扣除)
// 對沖的技術帳戶反向異動，維持複式記帳平衡
//
// 回傳:
//
//	*domain.Account: 異動後的帳戶 (重送的 client_tx_id 回傳目前狀態，不重複套用)
//	error: ErrInvalidArgument / ErrInsufficientFunds / ErrLockAcquisition / ErrStore
func (e *BalanceEngine) ApplyDelta(ctx context.Context, ownerID, currencyID, delta int64, clientTxID string) (*domain.Account, error) {
	if err := validateOwner(ownerID, currencyID); err != nil {
		return nil, err
	}
	if err := validateClientTxID(clientTxID); err != nil {
		return nil, err
	}
	// 對沖帳戶異動 -delta，MinInt64 取負數會溢位
	if delta == math.MinInt64 {
		return nil, domain.InvalidArgument("delta %d out of range", delta)
	}

	logger := e.logger.With(
		zap.String("client_tx_id", clientTxID),
		zap.Int64("owner_id", ownerID),
		zap.Int64("currency_id", currencyID),
		zap.Int64("amount", delta),
	)

	release, err := e.acquire(ctx, logger, e.lockKeys(clientTxID, domain.UserKey(ownerID, currencyID)))
	if err != nil {
		return nil, err
	}
	defer release()

	// 存入對沖 credit 技術帳戶，扣除對沖 debit 技術帳戶
	polarity := domain.PolarityCredit
	if delta < 0 {
		polarity = domain.PolarityDebit
	}
	userKey := domain.UserKey(ownerID, currencyID)
	counterKey := domain.TechnicalKey(currencyID, polarity)

	var (
		result   *domain.Account
		replayed bool
	)
	err = e.withReplayRetry(ctx, func(ctx context.Context, tx Tx) error {
		replayed = false
		accounts, err := e.resolver.lockAll(ctx, tx, userKey, counterKey)
		if err != nil {
			return err
		}
		user, counter := accounts[userKey], accounts[counterKey]

		entry := &domain.LedgerEntry{
			FromAccountID: counter.ID,
			ToAccountID:   user.ID,
			Amount:        delta,
			ClientTxID:    clientTxID,
			Kind:          domain.EntryKindDelta,
			CreatedAt:     e.now(),
		}
		done, err := e.reserve(ctx, tx, entry, []domain.Posting{
			{AccountID: user.ID, Amount: delta},
			{AccountID: counter.ID, Amount: -delta},
		})
		if err != nil {
			return err
		}
		if done {
			replayed = true
			result = user
			return nil
		}

		if err := user.Apply(delta); err != nil {
			return err
		}
		if err := counter.Apply(-delta); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, user); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, counter); err != nil {
			return err
		}
		result = user
		return nil
	})
	if err != nil {
		logger.Info("apply delta failed", zap.Error(err))
		return nil, err
	}

	if replayed {
		logger.Info("client transaction already processed")
		return result, nil
	}

	e.invalidate(ctx, logger, domain.BalanceCacheKey(ownerID, currencyID))
	e.publish(ctx, logger, domain.BalanceChanged{
		ClientTxID: clientTxID,
		OwnerID:    ownerID,
		CurrencyID: currencyID,
		Delta:      delta,
		Balance:    result.Balance,
		OccurredAt: e.now(),
	})
	logger.Debug("balance updated", zap.Int64("balance", result.Balance))
	return result, nil
}

// GetBalance 先讀快取，miss 時讀資料庫並回填 (不上鎖，允許 TTL 內的延遲)
func (e *BalanceEngine) GetBalance(ctx context.Context, ownerID, currencyID int64) (int64, error) {
	if err := validateOwner(ownerID, currencyID); err != nil {
		return 0, err
	}
	key := domain.BalanceCacheKey(ownerID, currencyID)
	return e.cache.GetOrCompute(ctx, key, e.cacheTTL, func(ctx context.Context) (int64, error) {
		balance, err := e.store.AccountBalance(ctx, domain.UserKey(ownerID, currencyID))
		if err != nil {
			return 0, domain.StoreFailure(err)
		}
		return balance, nil
	})
}

// GetAllBalances 擁有者所有帳戶的餘額，順序不保證
func (e *BalanceEngine) GetAllBalances(ctx context.Context, ownerID int64) ([]domain.Balance, error) {
	if ownerID <= domain.SystemOwnerID {
		return nil, domain.InvalidArgument("owner id must be positive, got %d", ownerID)
	}
	balances, err := e.store.ListBalances(ctx, ownerID)
	if err != nil {
		return nil, domain.StoreFailure(err)
	}
	if balances == nil {
		balances = []domain.Balance{}
	}
	return balances, nil
}

// Reconcile 檢查該幣別 sum(一般帳戶) == -sum(技術帳戶)
func (e *BalanceEngine) Reconcile(ctx context.Context, currencyID int64) (domain.Totals, error) {
	if currencyID <= 0 {
		return domain.Totals{}, domain.InvalidArgument("currency id must be positive, got %d", currencyID)
	}
	totals, err := e.store.CurrencyTotals(ctx, currencyID)
	if err != nil {
		return domain.Totals{}, domain.StoreFailure(err)
	}
	if !totals.Balanced() {
		e.logger.Error("ledger imbalance",
			zap.Int64("currency_id", currencyID),
			zap.Int64("normal", totals.Normal),
			zap.Int64("technical", totals.Technical),
		)
		return totals, fmt.Errorf("%w: currency %d normal %d technical %d",
			domain.ErrLedgerImbalance, currencyID, totals.Normal, totals.Technical)
	}
	return totals, nil
}

// reserve 冪等檢查並保留 client_tx_id，必須在任何餘額異動之前呼叫
//
// 回傳:
//
//	bool: true 表示這筆交易先前已提交 (replay)，呼叫端不可再異動餘額
//	error: 參數不一致回傳 ErrIdempotencyConflict
func (e *BalanceEngine) reserve(ctx context.Context, tx Tx, entry *domain.LedgerEntry, postings []domain.Posting) (bool, error) {
	existing, err := tx.FindEntry(ctx, entry.ClientTxID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if !existing.SameOperation(entry) {
			return false, fmt.Errorf("%w: %s", domain.ErrIdempotencyConflict, entry.ClientTxID)
		}
		return true, nil
	}
	if err := tx.CreateEntry(ctx, entry, postings); err != nil {
		return false, err
	}
	return false, nil
}

// withReplayRetry 執行交易；若 client_tx_id 在寫入時才撞到唯一約束
// (另一個交易剛提交同一筆)，重跑一次讓 FindEntry 走 replay 路徑
func (e *BalanceEngine) withReplayRetry(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := e.store.Transaction(ctx, fn)
	if errors.Is(err, domain.ErrDuplicateEntry) {
		err = e.store.Transaction(ctx, fn)
	}
	if err != nil && !errors.Is(err, domain.ErrInvalidArgument) && !errors.Is(err, domain.ErrInsufficientFunds) {
		return domain.StoreFailure(err)
	}
	return err
}

// lockKeys 依 LockScope 產生需要的鎖 key
func (e *BalanceEngine) lockKeys(clientTxID string, participants ...domain.AccountKey) []string {
	if e.lockScope == LockScopeOperation {
		return []string{domain.OperationLockKey(clientTxID)}
	}
	keys := make([]string, 0, len(participants))
	for _, p := range participants {
		keys = append(keys, domain.AccountLockKey(p.OwnerID, p.CurrencyID))
	}
	return keys
}

// acquire 依排序取得所有鎖，任何一把失敗就釋放已取得的鎖並回傳 ErrLockAcquisition
func (e *BalanceEngine) acquire(ctx context.Context, logger *zap.Logger, keys []string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]LockHandle, 0, len(keys))
	release := func() {
		// 呼叫端的 ctx 可能已取消，釋放鎖仍要執行
		unlockCtx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Unlock(unlockCtx); err != nil {
				logger.Warn("failed to release lock", zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		handle, ok, err := e.locker.TryLock(ctx, key, e.lockTTL)
		if err != nil {
			release()
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrLockAcquisition, key, err)
		}
		if !ok {
			release()
			logger.Info("lock busy", zap.String("lock_key", key))
			return nil, fmt.Errorf("%w: %s", domain.ErrLockAcquisition, key)
		}
		held = append(held, handle)
	}
	return release, nil
}

// invalidate 清除快取；資料已提交，失敗只記錄不回傳
func (e *BalanceEngine) invalidate(ctx context.Context, logger *zap.Logger, keys ...string) {
	if err := e.cache.Invalidate(context.WithoutCancel(ctx), keys...); err != nil {
		logger.Error("failed to invalidate balance cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (e *BalanceEngine) publish(ctx context.Context, logger *zap.Logger, event domain.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("failed to publish event", zap.String("topic", event.Topic()), zap.Error(err))
	}
}
