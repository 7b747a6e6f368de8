package domain

import "github.com/shopspring/decimal"

// Currency 幣別資料，Scale 為小數位數 (USD=2, JPY=0)
type Currency struct {
	ID    int64
	Code  string
	Name  string
	Scale int32
}

// Balance getAllBalances 的回傳單位
type Balance struct {
	CurrencyCode string
	Balance      int64
	Scale        int32
}

// Formatted 以最小單位精確轉成十進位字串 (不經過 float)
func (b Balance) Formatted() string {
	return decimal.New(b.Balance, -b.Scale).StringFixed(b.Scale)
}

// Totals 單一幣別的總帳
type Totals struct {
	CurrencyID int64
	Normal     int64
	Technical  int64
}

// Balanced 一般帳戶總和 == -技術帳戶總和
func (t Totals) Balanced() bool {
	return t.Normal+t.Technical == 0
}
