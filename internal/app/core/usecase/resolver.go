package usecase

import (
	"context"
	"slices"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// AccountResolver 負責 find-or-create 帳戶
// 所有方法都必須在 Store.Transaction 內呼叫，取得的帳戶列在交易結束前保持鎖定
type AccountResolver struct {
	store Store
}

func NewAccountResolver(store Store) *AccountResolver {
	return &AccountResolver{store: store}
}

// ResolveAccount 取得 (或建立) 使用者在該幣別的一般帳戶
func (r *AccountResolver) ResolveAccount(ctx context.Context, tx Tx, ownerID, currencyID int64) (*domain.Account, error) {
	if err := validateOwner(ownerID, currencyID); err != nil {
		return nil, err
	}
	return tx.LockAccount(ctx, domain.UserKey(ownerID, currencyID))
}

// ResolveTechnicalAccount 取得 (或建立) 該幣別的系統對沖帳戶
func (r *AccountResolver) ResolveTechnicalAccount(ctx context.Context, tx Tx, currencyID int64, polarity domain.Polarity) (*domain.Account, error) {
	if currencyID <= 0 {
		return nil, domain.InvalidArgument("currency id must be positive, got %d", currencyID)
	}
	if polarity != domain.PolarityCredit && polarity != domain.PolarityDebit {
		return nil, domain.InvalidArgument("technical account polarity must be credit or debit, got %s", polarity)
	}
	return tx.LockAccount(ctx, domain.TechnicalKey(currencyID, polarity))
}

// Provision 預先建立各幣別的 credit/debit 技術帳戶 (可重複呼叫)
func (r *AccountResolver) Provision(ctx context.Context, currencyIDs ...int64) error {
	keys := make([]domain.AccountKey, 0, len(currencyIDs)*2)
	for _, currencyID := range currencyIDs {
		if currencyID <= 0 {
			return domain.InvalidArgument("currency id must be positive, got %d", currencyID)
		}
		keys = append(keys,
			domain.TechnicalKey(currencyID, domain.PolarityCredit),
			domain.TechnicalKey(currencyID, domain.PolarityDebit),
		)
	}
	return r.store.Transaction(ctx, func(ctx context.Context, tx Tx) error {
		_, err := r.lockAll(ctx, tx, keys...)
		return err
	})
}

// lockAll 依固定順序鎖定多個帳戶，重複的 key 只鎖一次
func (r *AccountResolver) lockAll(ctx context.Context, tx Tx, keys ...domain.AccountKey) (map[domain.AccountKey]*domain.Account, error) {
	ordered := slices.Clone(keys)
	slices.SortFunc(ordered, domain.AccountKey.Compare)
	ordered = slices.Compact(ordered)

	accounts := make(map[domain.AccountKey]*domain.Account, len(ordered))
	for _, key := range ordered {
		account, err := tx.LockAccount(ctx, key)
		if err != nil {
			return nil, err
		}
		accounts[key] = account
	}
	return accounts, nil
}

func validateOwner(ownerID, currencyID int64) error {
	if ownerID <= domain.SystemOwnerID {
		return domain.InvalidArgument("owner id must be positive, got %d", ownerID)
	}
	if currencyID <= 0 {
		return domain.InvalidArgument("currency id must be positive, got %d", currencyID)
	}
	return nil
}

func validateClientTxID(clientTxID string) error {
	if clientTxID == "" {
		return domain.InvalidArgument("client transaction id is required")
	}
	if len(clientTxID) > MaxClientTxIDLength {
		return domain.InvalidArgument("client transaction id longer than %d bytes", MaxClientTxIDLength)
	}
	return nil
}
