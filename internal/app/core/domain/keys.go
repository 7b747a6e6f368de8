package domain

import "fmt"

// BalanceCacheKey 餘額快取的 key
func BalanceCacheKey(ownerID, currencyID int64) string {
	return fmt.Sprintf("balance:user_%d:currency_%d", ownerID, currencyID)
}

// OperationLockKey 以 client_tx_id 為單位的鎖
func OperationLockKey(clientTxID string) string {
	return "walletLock:tx_" + clientTxID
}

// AccountLockKey 以 (owner, currency) 為單位的鎖
func AccountLockKey(ownerID, currencyID int64) string {
	return fmt.Sprintf("walletLock:user_%d:currency_%d", ownerID, currencyID)
}
