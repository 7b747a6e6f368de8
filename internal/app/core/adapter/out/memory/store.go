package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/wal"
)

// JournalKey WAL 內每筆提交紀錄的 key
const JournalKey = "ledger_commit"

// journalRecord 一次提交寫入 WAL 的內容
type journalRecord struct {
	Accounts []domain.Account     `json:"accounts"`
	Entries  []domain.LedgerEntry `json:"entries"`
	Postings []domain.Posting     `json:"postings"`
}

// StoreOption Store 設定選項
type StoreOption func(*Store)

// WithCurrencies 註冊幣別 (等同 currencies 表)
func WithCurrencies(currencies ...domain.Currency) StoreOption {
	return func(s *Store) {
		for _, c := range currencies {
			s.currencies[c.ID] = c
		}
	}
}

// WithWAL 提交前先寫入 WAL，啟動時從 WAL 恢復
func WithWAL(w *wal.WAL) StoreOption {
	return func(s *Store) {
		s.wal = w
	}
}

// Store 記憶體版的帳務儲存 (Level 1)
//
// 結構:
//
//	accounts: 已提交的帳戶
//	entries: 已提交的分錄 (以 client_tx_id 為 key，等同唯一索引)
//	reserved: 交易中尚未提交的 client_tx_id，交易結束時關閉 done 喚醒等待者
//	rowLocks: 每個帳戶一把列鎖，交易結束才釋放
type Store struct {
	mu         sync.Mutex
	accounts   map[domain.AccountKey]*domain.Account
	currencies map[int64]domain.Currency
	entries    map[string]*domain.LedgerEntry
	postings   []domain.Posting
	reserved   map[string]*reservation
	rowLocks   map[domain.AccountKey]chan struct{}

	nextAccountID int64
	nextEntryID   int64

	wal *wal.WAL
}

// NewStore 建立記憶體儲存，若設定了 WAL 會先重放紀錄
func NewStore(opts ...StoreOption) (*Store, error) {
	s := &Store{
		accounts:   make(map[domain.AccountKey]*domain.Account),
		currencies: make(map[int64]domain.Currency),
		entries:    make(map[string]*domain.LedgerEntry),
		reserved:   make(map[string]*reservation),
		rowLocks:   make(map[domain.AccountKey]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wal != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recoverFromWAL 依序重放 WAL 中的提交紀錄 (單執行緒，不需要鎖)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec journalRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return errors.Wrap(err, "decode journal record")
		}
		s.applyRecord(&rec)
		return nil
	})
}

// applyRecord 將提交內容套用到已提交狀態，呼叫端需持有 s.mu (或在初始化階段)
func (s *Store) applyRecord(rec *journalRecord) {
	for i := range rec.Accounts {
		a := rec.Accounts[i]
		s.accounts[a.Key()] = &a
		s.nextAccountID = max(s.nextAccountID, a.ID)
	}
	for i := range rec.Entries {
		e := rec.Entries[i]
		s.entries[e.ClientTxID] = &e
		s.nextEntryID = max(s.nextEntryID, e.ID)
	}
	s.postings = append(s.postings, rec.Postings...)
}

// Transaction 在記憶體交易內執行 fn；fn 回傳錯誤或 panic 時丟棄所有變更
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) error {
	tx := &memTx{
		store:    s,
		accounts: make(map[domain.AccountKey]*domain.Account),
	}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

// AccountBalance 讀取已提交的餘額，帳戶不存在回傳 0
func (s *Store) AccountBalance(ctx context.Context, key domain.AccountKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[key]; ok {
		return a.Balance, nil
	}
	return 0, nil
}

// ListBalances 擁有者所有帳戶 (join 幣別)
func (s *Store) ListBalances(ctx context.Context, ownerID int64) ([]domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances := make([]domain.Balance, 0)
	for _, a := range s.accounts {
		if a.OwnerID != ownerID {
			continue
		}
		c := s.currencies[a.CurrencyID]
		balances = append(balances, domain.Balance{
			CurrencyCode: c.Code,
			Balance:      a.Balance,
			Scale:        c.Scale,
		})
	}
	return balances, nil
}

// CurrencyTotals 幣別總帳
func (s *Store) CurrencyTotals(ctx context.Context, currencyID int64) (domain.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := domain.Totals{CurrencyID: currencyID}
	for _, a := range s.accounts {
		if a.CurrencyID != currencyID {
			continue
		}
		if a.Technical {
			totals.Technical += a.Balance
		} else {
			totals.Normal += a.Balance
		}
	}
	return totals, nil
}

// Entries 回傳已提交的分錄 (測試與除錯用)
func (s *Store) Entries() []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Postings 回傳某分錄的拆帳
func (s *Store) Postings(entryID int64) []domain.Posting {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Posting
	for _, p := range s.postings {
		if p.EntryID == entryID {
			out = append(out, p)
		}
	}
	return out
}

// SetBalance 直接改寫已提交餘額，不經過快取失效 (測試用)
func (s *Store) SetBalance(key domain.AccountKey, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[key]; ok {
		a.Balance = balance
		return
	}
	s.nextAccountID++
	s.accounts[key] = &domain.Account{
		ID:         s.nextAccountID,
		OwnerID:    key.OwnerID,
		CurrencyID: key.CurrencyID,
		Balance:    balance,
		Technical:  key.Technical,
		Polarity:   key.Polarity,
	}
}

// rowLock 取得帳戶的列鎖 channel (容量 1)
func (s *Store) rowLock(key domain.AccountKey) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.rowLocks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[key] = ch
	}
	return ch
}

// reservation 交易中保留的 client_tx_id (等同唯一索引上的未提交列)
type reservation struct {
	owner *memTx
	done  chan struct{}
}

// memTx 單一交易的暫存狀態
type memTx struct {
	store    *Store
	locked   []domain.AccountKey
	accounts map[domain.AccountKey]*domain.Account
	entries  []*domain.LedgerEntry
	postings []domain.Posting
}

// LockAccount 取得列鎖後 find-or-create，同一交易重複呼叫回傳同一個物件
func (tx *memTx) LockAccount(ctx context.Context, key domain.AccountKey) (*domain.Account, error) {
	if a, ok := tx.accounts[key]; ok {
		return a, nil
	}

	s := tx.store
	s.mu.Lock()
	_, known := s.currencies[key.CurrencyID]
	s.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("%w: %d", domain.ErrCurrencyNotFound, key.CurrencyID)
	}

	lock := s.rowLock(key)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	tx.locked = append(tx.locked, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	var working domain.Account
	if committed, ok := s.accounts[key]; ok {
		working = *committed
	} else {
		s.nextAccountID++
		working = domain.Account{
			ID:         s.nextAccountID,
			OwnerID:    key.OwnerID,
			CurrencyID: key.CurrencyID,
			Technical:  key.Technical,
			Polarity:   key.Polarity,
		}
	}
	tx.accounts[key] = &working
	return &working, nil
}

// SaveAccount 寫回暫存狀態，帳戶必須已在本交易中鎖定
func (tx *memTx) SaveAccount(ctx context.Context, account *domain.Account) error {
	working, ok := tx.accounts[account.Key()]
	if !ok {
		return fmt.Errorf("account %s is not locked in this transaction", account.Key())
	}
	if working != account {
		*working = *account
	}
	return nil
}

// FindEntry 查詢已提交或本交易建立的分錄
func (tx *memTx) FindEntry(ctx context.Context, clientTxID string) (*domain.LedgerEntry, error) {
	for _, e := range tx.entries {
		if e.ClientTxID == clientTxID {
			cp := *e
			return &cp, nil
		}
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[clientTxID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

// CreateEntry 保留 client_tx_id 並暫存分錄，重複時回傳 domain.ErrDuplicateEntry
// 另一個交易正保留同一個 client_tx_id 時等它結束 (同 InnoDB 唯一索引的行為)：
// 對方提交則回傳 ErrDuplicateEntry，對方 rollback 則由本交易保留
func (tx *memTx) CreateEntry(ctx context.Context, entry *domain.LedgerEntry, postings []domain.Posting) error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if _, ok := s.entries[entry.ClientTxID]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateEntry, entry.ClientTxID)
		}
		r, ok := s.reserved[entry.ClientTxID]
		if !ok {
			break
		}
		if r.owner == tx {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateEntry, entry.ClientTxID)
		}
		s.mu.Unlock()
		select {
		case <-r.done:
			s.mu.Lock()
		case <-ctx.Done():
			s.mu.Lock()
			return ctx.Err()
		}
	}
	s.reserved[entry.ClientTxID] = &reservation{owner: tx, done: make(chan struct{})}

	s.nextEntryID++
	entry.ID = s.nextEntryID
	cp := *entry
	tx.entries = append(tx.entries, &cp)
	for _, p := range postings {
		p.EntryID = entry.ID
		tx.postings = append(tx.postings, p)
	}
	return nil
}

// commit 寫 WAL (Critical Path) 後套用到已提交狀態
func (tx *memTx) commit() error {
	s := tx.store
	rec := &journalRecord{
		Accounts: make([]domain.Account, 0, len(tx.accounts)),
		Entries:  make([]domain.LedgerEntry, 0, len(tx.entries)),
		Postings: tx.postings,
	}
	for _, key := range tx.locked {
		rec.Accounts = append(rec.Accounts, *tx.accounts[key])
	}
	for _, e := range tx.entries {
		rec.Entries = append(rec.Entries, *e)
	}

	if s.wal != nil {
		if err := s.wal.Write(rec); err != nil {
			tx.rollback()
			return errors.Wrap(err, "write journal")
		}
	}

	s.mu.Lock()
	s.applyRecord(rec)
	tx.releaseReservations()
	s.mu.Unlock()

	tx.unlockRows()
	return nil
}

func (tx *memTx) rollback() {
	s := tx.store
	s.mu.Lock()
	tx.releaseReservations()
	s.mu.Unlock()
	tx.unlockRows()
}

// releaseReservations 釋放本交易保留的 client_tx_id 並喚醒等待者，呼叫端需持有 s.mu
func (tx *memTx) releaseReservations() {
	s := tx.store
	for _, e := range tx.entries {
		if r, ok := s.reserved[e.ClientTxID]; ok && r.owner == tx {
			delete(s.reserved, e.ClientTxID)
			close(r.done)
		}
	}
}

func (tx *memTx) unlockRows() {
	for i := len(tx.locked) - 1; i >= 0; i-- {
		<-tx.store.rowLock(tx.locked[i])
	}
	tx.locked = nil
}

var _ usecase.Store = (*Store)(nil)
var _ usecase.Tx = (*memTx)(nil)
