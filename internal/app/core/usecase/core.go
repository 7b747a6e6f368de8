package usecase

import (
	"context"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// CoreUseCase 是核心業務邏輯層，供 gRPC 等 inbound adapter 使用
type CoreUseCase struct {
	engine   *BalanceEngine
	transfer *TransferOrchestrator
}

func NewCoreUseCase(engine *BalanceEngine) *CoreUseCase {
	return &CoreUseCase{
		engine:   engine,
		transfer: NewTransferOrchestrator(engine),
	}
}

// UpdateBalance 對使用者帳戶加減餘額
func (c *CoreUseCase) UpdateBalance(ctx context.Context, ownerID, currencyID, delta int64, clientTxID string) (*domain.Account, error) {
	return c.engine.ApplyDelta(ctx, ownerID, currencyID, delta, clientTxID)
}

// Transfer 使用者之間轉帳
func (c *CoreUseCase) Transfer(ctx context.Context, fromOwnerID, toOwnerID, currencyID, amount int64, clientTxID string) (*domain.LedgerEntry, error) {
	return c.transfer.Transfer(ctx, fromOwnerID, toOwnerID, currencyID, amount, clientTxID)
}

// GetBalance 取得帳戶餘額
func (c *CoreUseCase) GetBalance(ctx context.Context, ownerID, currencyID int64) (int64, error) {
	return c.engine.GetBalance(ctx, ownerID, currencyID)
}

// GetAllBalances 取得使用者所有幣別餘額
func (c *CoreUseCase) GetAllBalances(ctx context.Context, ownerID int64) ([]domain.Balance, error) {
	return c.engine.GetAllBalances(ctx, ownerID)
}

// Reconcile 檢查幣別總帳
func (c *CoreUseCase) Reconcile(ctx context.Context, currencyID int64) (domain.Totals, error) {
	return c.engine.Reconcile(ctx, currencyID)
}

// Provision 預先建立技術帳戶
func (c *CoreUseCase) Provision(ctx context.Context, currencyIDs ...int64) error {
	return c.engine.Resolver().Provision(ctx, currencyIDs...)
}
