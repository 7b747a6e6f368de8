package domain

import (
	"errors"
	"fmt"
)

// 錯誤分類 (呼叫端以 errors.Is 判斷)
var (
	// ErrInvalidArgument 輸入參數不合法，未做任何異動
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientFunds 餘額不足 (一般帳戶不可為負)
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLockAcquisition 無法取得鎖，可稍後重試
	ErrLockAcquisition = errors.New("unable to acquire lock")

	// ErrStore 底層儲存失敗 (連線、約束等)
	ErrStore = errors.New("store failure")
)

var (
	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrCurrencyNotFound 幣別未註冊，屬於參數錯誤
	ErrCurrencyNotFound = fmt.Errorf("%w: currency not found", ErrInvalidArgument)

	// ErrBalanceOverflow 異動後餘額超出 int64 範圍，屬於參數錯誤
	ErrBalanceOverflow = fmt.Errorf("%w: balance overflow", ErrInvalidArgument)

	// ErrDuplicateEntry client_tx_id 唯一約束衝突
	ErrDuplicateEntry = errors.New("duplicate client transaction id")

	// ErrIdempotencyConflict 同一個 client_tx_id 帶了不同的參數
	ErrIdempotencyConflict = fmt.Errorf("%w: client transaction id reused with different parameters", ErrInvalidArgument)

	// ErrLedgerImbalance 複式記帳不平衡
	ErrLedgerImbalance = errors.New("ledger imbalance")
)

// InvalidArgument 包裝參數錯誤訊息
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// StoreFailure 將底層錯誤標記為 ErrStore，保留原始錯誤鏈
func StoreFailure(err error) error {
	if err == nil || errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

// IsRetryable 只有取鎖失敗屬於暫時性錯誤
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockAcquisition)
}
