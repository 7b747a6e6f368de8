package domain

import "time"

// Event 提交後對外發送的事件
type Event interface {
	Topic() string
	Key() string
}

// BalanceChanged ApplyDelta 提交後發送
type BalanceChanged struct {
	ClientTxID string    `json:"client_tx_id"`
	OwnerID    int64     `json:"owner_id"`
	CurrencyID int64     `json:"currency_id"`
	Delta      int64     `json:"delta"`
	Balance    int64     `json:"balance"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (BalanceChanged) Topic() string { return "ledger.balance_changed" }

func (e BalanceChanged) Key() string { return e.ClientTxID }

// TransferCommitted Transfer 提交後發送
type TransferCommitted struct {
	ClientTxID  string    `json:"client_tx_id"`
	FromOwnerID int64     `json:"from_owner_id"`
	ToOwnerID   int64     `json:"to_owner_id"`
	CurrencyID  int64     `json:"currency_id"`
	Amount      int64     `json:"amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (TransferCommitted) Topic() string { return "ledger.transfer_committed" }

func (e TransferCommitted) Key() string { return e.ClientTxID }
