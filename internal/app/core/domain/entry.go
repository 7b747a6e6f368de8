package domain

import "time"

// EntryKind 分錄類型
type EntryKind uint8

const (
	// EntryKindDelta 單一帳戶加減 (對沖技術帳戶)
	EntryKindDelta EntryKind = 1
	// EntryKindTransfer 兩個使用者之間轉帳
	EntryKindTransfer EntryKind = 2
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindDelta:
		return "delta"
	case EntryKindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// LedgerEntry 一筆已提交的帳務異動，只新增不修改
// ClientTxID 全域唯一 (冪等 token)
type LedgerEntry struct {
	ID            int64
	FromAccountID int64
	ToAccountID   int64
	Amount        int64
	ClientTxID    string
	Kind          EntryKind
	CreatedAt     time.Time
}

// Posting 分錄拆解到每個帳戶上的異動
type Posting struct {
	EntryID   int64
	AccountID int64
	Amount    int64
}

// SameOperation 判斷重送的請求是否與已存在的分錄一致
func (e *LedgerEntry) SameOperation(o *LedgerEntry) bool {
	return e.Kind == o.Kind &&
		e.FromAccountID == o.FromAccountID &&
		e.ToAccountID == o.ToAccountID &&
		e.Amount == o.Amount
}
