package domain

import (
	"cmp"
	"fmt"
	"math"
)

// SystemOwnerID 技術帳戶 (對沖帳戶) 的擁有者
const SystemOwnerID int64 = 0

// Polarity 技術帳戶代表複式記帳的哪一邊
type Polarity uint8

const (
	PolarityNormal Polarity = iota
	PolarityCredit
	PolarityDebit
)

func (p Polarity) String() string {
	switch p {
	case PolarityCredit:
		return "credit"
	case PolarityDebit:
		return "debit"
	default:
		return "normal"
	}
}

// ParsePolarity 將資料庫/設定檔中的字串轉回 Polarity
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "normal", "":
		return PolarityNormal, nil
	case "credit":
		return PolarityCredit, nil
	case "debit":
		return PolarityDebit, nil
	}
	return PolarityNormal, InvalidArgument("unknown polarity %q", s)
}

// Account 一個擁有者在一個幣別下的餘額
// Balance 一律使用最小貨幣單位 (int64)
type Account struct {
	ID         int64
	OwnerID    int64
	CurrencyID int64
	Balance    int64
	Technical  bool
	Polarity   Polarity
}

// Key 回傳帳戶的唯一鍵
func (a *Account) Key() AccountKey {
	return AccountKey{
		OwnerID:    a.OwnerID,
		CurrencyID: a.CurrencyID,
		Technical:  a.Technical,
		Polarity:   a.Polarity,
	}
}

// Apply 套用帶正負號的異動，一般帳戶不可低於 0
// 超出 int64 範圍回傳 ErrBalanceOverflow，餘額不變 (技術帳戶同樣檢查)
func (a *Account) Apply(delta int64) error {
	if (delta > 0 && a.Balance > math.MaxInt64-delta) || (delta < 0 && a.Balance < math.MinInt64-delta) {
		return fmt.Errorf("%w: account %d balance %d, delta %d", ErrBalanceOverflow, a.ID, a.Balance, delta)
	}
	next := a.Balance + delta
	if !a.Technical && next < 0 {
		return fmt.Errorf("%w: account %d balance %d, delta %d", ErrInsufficientFunds, a.ID, a.Balance, delta)
	}
	a.Balance = next
	return nil
}

// AccountKey 對應資料表 unique(owner_id, currency_id, polarity, is_technical)
type AccountKey struct {
	OwnerID    int64
	CurrencyID int64
	Technical  bool
	Polarity   Polarity
}

// UserKey 使用者的一般帳戶
func UserKey(ownerID, currencyID int64) AccountKey {
	return AccountKey{OwnerID: ownerID, CurrencyID: currencyID, Polarity: PolarityNormal}
}

// TechnicalKey 系統對沖帳戶
func TechnicalKey(currencyID int64, polarity Polarity) AccountKey {
	return AccountKey{OwnerID: SystemOwnerID, CurrencyID: currencyID, Technical: true, Polarity: polarity}
}

// Compare 固定的排序，用來決定上鎖順序避免死鎖
func (k AccountKey) Compare(o AccountKey) int {
	if c := cmp.Compare(k.CurrencyID, o.CurrencyID); c != 0 {
		return c
	}
	if k.Technical != o.Technical {
		if k.Technical {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(k.OwnerID, o.OwnerID); c != 0 {
		return c
	}
	return cmp.Compare(k.Polarity, o.Polarity)
}

func (k AccountKey) String() string {
	return fmt.Sprintf("owner_%d:currency_%d:%s", k.OwnerID, k.CurrencyID, k.Polarity)
}
