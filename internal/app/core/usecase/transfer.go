package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// TransferState 單筆轉帳的狀態
type TransferState uint8

const (
	TransferRequested TransferState = iota
	TransferLocksAcquired
	TransferDebitApplied
	TransferCreditApplied
	TransferTechnicalPostingApplied
	TransferCommitted
	TransferFailed
)

func (s TransferState) String() string {
	switch s {
	case TransferRequested:
		return "requested"
	case TransferLocksAcquired:
		return "locks_acquired"
	case TransferDebitApplied:
		return "debit_applied"
	case TransferCreditApplied:
		return "credit_applied"
	case TransferTechnicalPostingApplied:
		return "technical_posting_applied"
	case TransferCommitted:
		return "committed"
	case TransferFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransferOrchestrator 使用者之間的轉帳
// 扣款、入帳、技術帳戶對沖與分錄在同一個資料庫交易內完成，任何一步失敗整筆 rollback
type TransferOrchestrator struct {
	engine *BalanceEngine
}

func NewTransferOrchestrator(engine *BalanceEngine) *TransferOrchestrator {
	return &TransferOrchestrator{engine: engine}
}

// Transfer 從 fromOwner 轉 amount 到 toOwner
//
// 參數:
//
//	amount: 最小貨幣單位，必須 >= 0
//	clientTxID: 冪等 token
//
// 回傳:
//
//	*domain.LedgerEntry: 技術帳戶之間的分錄 (重送時回傳原本的分錄)
//	error: ErrInvalidArgument / ErrInsufficientFunds / ErrLockAcquisition / ErrStore
func (o *TransferOrchestrator) Transfer(ctx context.Context, fromOwnerID, toOwnerID, currencyID, amount int64, clientTxID string) (*domain.LedgerEntry, error) {
	e := o.engine
	if amount < 0 {
		return nil, domain.InvalidArgument("transfer amount must be non-negative, got %d", amount)
	}
	if err := validateOwner(fromOwnerID, currencyID); err != nil {
		return nil, err
	}
	if err := validateOwner(toOwnerID, currencyID); err != nil {
		return nil, err
	}
	if err := validateClientTxID(clientTxID); err != nil {
		return nil, err
	}

	logger := e.logger.With(
		zap.String("client_tx_id", clientTxID),
		zap.Int64("from_owner_id", fromOwnerID),
		zap.Int64("to_owner_id", toOwnerID),
		zap.Int64("currency_id", currencyID),
		zap.Int64("amount", amount),
	)
	state := TransferRequested
	step := func(next TransferState) {
		state = next
		logger.Debug("transfer state", zap.Stringer("state", state))
	}
	step(TransferRequested)

	fromKey := domain.UserKey(fromOwnerID, currencyID)
	toKey := domain.UserKey(toOwnerID, currencyID)
	creditKey := domain.TechnicalKey(currencyID, domain.PolarityCredit)
	debitKey := domain.TechnicalKey(currencyID, domain.PolarityDebit)

	release, err := e.acquire(ctx, logger, e.lockKeys(clientTxID, fromKey, toKey))
	if err != nil {
		step(TransferFailed)
		return nil, err
	}
	defer release()
	step(TransferLocksAcquired)

	var (
		result   *domain.LedgerEntry
		replayed bool
	)
	err = e.withReplayRetry(ctx, func(ctx context.Context, tx Tx) error {
		replayed = false
		accounts, err := e.resolver.lockAll(ctx, tx, fromKey, toKey, creditKey, debitKey)
		if err != nil {
			return err
		}
		from, to := accounts[fromKey], accounts[toKey]
		credit, debit := accounts[creditKey], accounts[debitKey]

		entry := &domain.LedgerEntry{
			FromAccountID: credit.ID,
			ToAccountID:   debit.ID,
			Amount:        amount,
			ClientTxID:    clientTxID,
			Kind:          domain.EntryKindTransfer,
			CreatedAt:     e.now(),
		}
		postings := []domain.Posting{
			{AccountID: from.ID, Amount: -amount},
			{AccountID: to.ID, Amount: amount},
			{AccountID: debit.ID, Amount: amount},
			{AccountID: credit.ID, Amount: -amount},
		}
		done, err := e.reserve(ctx, tx, entry, postings)
		if err != nil {
			return err
		}
		if done {
			replayed = true
			result, err = tx.FindEntry(ctx, clientTxID)
			return err
		}

		if err := from.Apply(-amount); err != nil {
			return err
		}
		step(TransferDebitApplied)

		// from == to 時是同一個 *Account，淨額為 0
		if err := to.Apply(amount); err != nil {
			return err
		}
		step(TransferCreditApplied)

		if err := debit.Apply(amount); err != nil {
			return err
		}
		if err := credit.Apply(-amount); err != nil {
			return err
		}
		step(TransferTechnicalPostingApplied)

		for _, key := range []domain.AccountKey{fromKey, toKey, creditKey, debitKey} {
			if key == toKey && fromKey == toKey {
				continue
			}
			if err := tx.SaveAccount(ctx, accounts[key]); err != nil {
				return err
			}
		}
		result = entry
		return nil
	})
	if err != nil {
		step(TransferFailed)
		logger.Info("transfer failed", zap.Error(err))
		return nil, err
	}

	if replayed {
		logger.Info("client transaction already processed")
		return result, nil
	}
	step(TransferCommitted)

	e.invalidate(ctx, logger,
		domain.BalanceCacheKey(fromOwnerID, currencyID),
		domain.BalanceCacheKey(toOwnerID, currencyID),
	)
	e.publish(ctx, logger, domain.TransferCommitted{
		ClientTxID:  clientTxID,
		FromOwnerID: fromOwnerID,
		ToOwnerID:   toOwnerID,
		CurrencyID:  currencyID,
		Amount:      amount,
		OccurredAt:  e.now(),
	})
	return result, nil
}
