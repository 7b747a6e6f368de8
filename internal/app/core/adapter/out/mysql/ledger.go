package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/mysql"
)

const (
	// mysqlErrDeadlock InnoDB 偵測到死鎖，整筆交易已被 rollback
	mysqlErrDeadlock = 1213
	// maxDeadlockRetries 死鎖時重跑交易的次數
	maxDeadlockRetries = 3
)

// sqlCurrency 對應資料庫的 currencies 表
type sqlCurrency struct {
	ID    int64  `gorm:"primaryKey"`
	Code  string `gorm:"size:16;not null;uniqueIndex"`
	Name  string `gorm:"size:64;not null"`
	Scale int32  `gorm:"not null"`
}

func (*sqlCurrency) TableName() string {
	return "currencies"
}

// sqlAccount 對應資料庫的 accounts 表
// unique(owner_id, currency_id, polarity, is_technical)
type sqlAccount struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	OwnerID     int64  `gorm:"not null;uniqueIndex:uk_accounts_owner_currency,priority:1"`
	CurrencyID  int64  `gorm:"not null;uniqueIndex:uk_accounts_owner_currency,priority:2"`
	Polarity    string `gorm:"size:16;not null;uniqueIndex:uk_accounts_owner_currency,priority:3"`
	IsTechnical bool   `gorm:"column:is_technical;not null;uniqueIndex:uk_accounts_owner_currency,priority:4"`
	Balance     int64  `gorm:"not null"`
	CreatedAt   int64  `gorm:"autoCreateTime:milli"` // 自動寫入時間
	UpdatedAt   int64  `gorm:"autoUpdateTime:milli"` // 自動更新時間
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

func (a *sqlAccount) toDomain() (*domain.Account, error) {
	polarity, err := domain.ParsePolarity(a.Polarity)
	if err != nil {
		return nil, err
	}
	return &domain.Account{
		ID:         a.ID,
		OwnerID:    a.OwnerID,
		CurrencyID: a.CurrencyID,
		Balance:    a.Balance,
		Technical:  a.IsTechnical,
		Polarity:   polarity,
	}, nil
}

// sqlLedgerEntry 對應資料庫的 ledger_entries 表
type sqlLedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	FromAccountID int64     `gorm:"not null;index"`
	ToAccountID   int64     `gorm:"not null;index"`
	Amount        int64     `gorm:"not null"`
	ClientTxID    string    `gorm:"column:client_tx_id;size:255;not null;uniqueIndex"`
	Kind          uint8     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (*sqlLedgerEntry) TableName() string {
	return "ledger_entries"
}

func (e *sqlLedgerEntry) toDomain() *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:            e.ID,
		FromAccountID: e.FromAccountID,
		ToAccountID:   e.ToAccountID,
		Amount:        e.Amount,
		ClientTxID:    e.ClientTxID,
		Kind:          domain.EntryKind(e.Kind),
		CreatedAt:     e.CreatedAt,
	}
}

// sqlPosting 對應資料庫的 ledger_postings 表
type sqlPosting struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	EntryID   int64 `gorm:"not null;index"`
	AccountID int64 `gorm:"not null;index"`
	Amount    int64 `gorm:"not null"`
}

func (*sqlPosting) TableName() string {
	return "ledger_postings"
}

// MySQLLedger 以 MySQL (InnoDB) 實作 usecase.Store
type MySQLLedger struct {
	client *mysql.Client
	logger *zap.Logger
}

func NewMySQLLedger(client *mysql.Client, logger *zap.Logger) *MySQLLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MySQLLedger{
		client: client,
		logger: logger,
	}
}

// AutoMigrate 建立/更新資料表 (開發環境用，正式環境走 migration)
func (ledger *MySQLLedger) AutoMigrate(ctx context.Context) error {
	return pkgerrors.Wrap(ledger.client.DB().WithContext(ctx).AutoMigrate(
		&sqlCurrency{},
		&sqlAccount{},
		&sqlLedgerEntry{},
		&sqlPosting{},
	), "auto migrate")
}

// EnsureCurrencies 寫入設定檔中的幣別，已存在則更新名稱與小數位數
func (ledger *MySQLLedger) EnsureCurrencies(ctx context.Context, currencies ...domain.Currency) error {
	if len(currencies) == 0 {
		return nil
	}
	rows := make([]sqlCurrency, 0, len(currencies))
	for _, c := range currencies {
		rows = append(rows, sqlCurrency{ID: c.ID, Code: c.Code, Name: c.Name, Scale: c.Scale})
	}
	err := ledger.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoUpdates: clause.AssignmentColumns([]string{"code", "name", "scale"})}).
		Create(&rows).Error
	return pkgerrors.Wrap(err, "ensure currencies")
}

// Transaction 在資料庫交易內執行 fn，InnoDB 死鎖時整筆重跑
func (ledger *MySQLLedger) Transaction(ctx context.Context, fn func(ctx context.Context, tx usecase.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxDeadlockRetries; attempt++ {
		err = ledger.client.DB().WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return fn(ctx, &gormTx{db: db})
		})
		if !isDeadlock(err) {
			return err
		}
		ledger.logger.Warn("transaction deadlock, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return pkgerrors.Wrapf(err, "transaction deadlocked %d times", maxDeadlockRetries)
}

// AccountBalance 取得帳戶餘額，帳戶不存在回傳 0
func (ledger *MySQLLedger) AccountBalance(ctx context.Context, key domain.AccountKey) (int64, error) {
	var account sqlAccount
	err := whereAccountKey(ledger.client.DB().WithContext(ctx), key).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, pkgerrors.Wrap(err, "select account balance")
	}
	return account.Balance, nil
}

// ListBalances 擁有者所有帳戶 join currencies
func (ledger *MySQLLedger) ListBalances(ctx context.Context, ownerID int64) ([]domain.Balance, error) {
	var rows []struct {
		Code    string
		Scale   int32
		Balance int64
	}
	err := ledger.client.DB().WithContext(ctx).
		Table("accounts").
		Select("currencies.code AS code, currencies.scale AS scale, accounts.balance AS balance").
		Joins("JOIN currencies ON currencies.id = accounts.currency_id").
		Where("accounts.owner_id = ?", ownerID).
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "select balances")
	}

	balances := make([]domain.Balance, 0, len(rows))
	for _, r := range rows {
		balances = append(balances, domain.Balance{CurrencyCode: r.Code, Balance: r.Balance, Scale: r.Scale})
	}
	return balances, nil
}

// CurrencyTotals 一般帳戶與技術帳戶各自的餘額總和
func (ledger *MySQLLedger) CurrencyTotals(ctx context.Context, currencyID int64) (domain.Totals, error) {
	var rows []struct {
		IsTechnical bool
		Total       int64
	}
	err := ledger.client.DB().WithContext(ctx).
		Model(&sqlAccount{}).
		Select("is_technical, COALESCE(SUM(balance), 0) AS total").
		Where("currency_id = ?", currencyID).
		Group("is_technical").
		Scan(&rows).Error
	if err != nil {
		return domain.Totals{}, pkgerrors.Wrap(err, "sum balances")
	}

	totals := domain.Totals{CurrencyID: currencyID}
	for _, r := range rows {
		if r.IsTechnical {
			totals.Technical = r.Total
		} else {
			totals.Normal = r.Total
		}
	}
	return totals, nil
}

// gormTx 交易內的操作
type gormTx struct {
	db *gorm.DB
}

// LockAccount SELECT ... FOR UPDATE，不存在時確認幣別後 INSERT ... ON DUPLICATE KEY 再鎖一次
// 唯一索引保證同一個 key 只會有一列
func (t *gormTx) LockAccount(ctx context.Context, key domain.AccountKey) (*domain.Account, error) {
	account, err := t.lockingFind(ctx, key)
	if err == nil {
		return account.toDomain()
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(err, "lock account")
	}

	var known int64
	if err := t.db.WithContext(ctx).Model(&sqlCurrency{}).Where("id = ?", key.CurrencyID).Count(&known).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "select currency")
	}
	if known == 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrCurrencyNotFound, key.CurrencyID)
	}

	row := sqlAccount{
		OwnerID:     key.OwnerID,
		CurrencyID:  key.CurrencyID,
		Polarity:    key.Polarity.String(),
		IsTechnical: key.Technical,
	}
	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "create account")
	}

	account, err = t.lockingFind(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "lock created account")
	}
	return account.toDomain()
}

func (t *gormTx) lockingFind(ctx context.Context, key domain.AccountKey) (*sqlAccount, error) {
	var account sqlAccount
	err := whereAccountKey(t.db.WithContext(ctx), key).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SaveAccount 只更新餘額欄位
func (t *gormTx) SaveAccount(ctx context.Context, account *domain.Account) error {
	err := t.db.WithContext(ctx).
		Model(&sqlAccount{ID: account.ID}).
		Update("balance", account.Balance).Error
	return pkgerrors.Wrap(err, "update balance")
}

// FindEntry 以 client_tx_id 查詢分錄
func (t *gormTx) FindEntry(ctx context.Context, clientTxID string) (*domain.LedgerEntry, error) {
	var entry sqlLedgerEntry
	err := t.db.WithContext(ctx).Where("client_tx_id = ?", clientTxID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "select ledger entry")
	}
	return entry.toDomain(), nil
}

// CreateEntry 建立分錄與拆帳，client_tx_id 唯一索引衝突回傳 domain.ErrDuplicateEntry
func (t *gormTx) CreateEntry(ctx context.Context, entry *domain.LedgerEntry, postings []domain.Posting) error {
	row := sqlLedgerEntry{
		FromAccountID: entry.FromAccountID,
		ToAccountID:   entry.ToAccountID,
		Amount:        entry.Amount,
		ClientTxID:    entry.ClientTxID,
		Kind:          uint8(entry.Kind),
		CreatedAt:     entry.CreatedAt,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateEntry, entry.ClientTxID)
		}
		return pkgerrors.Wrap(err, "create ledger entry")
	}
	entry.ID = row.ID

	if len(postings) == 0 {
		return nil
	}
	rows := make([]sqlPosting, 0, len(postings))
	for _, p := range postings {
		rows = append(rows, sqlPosting{EntryID: row.ID, AccountID: p.AccountID, Amount: p.Amount})
	}
	return pkgerrors.Wrap(t.db.WithContext(ctx).Create(&rows).Error, "create ledger postings")
}

// whereAccountKey 不能用 struct 條件，GORM 會忽略零值欄位 (owner_id = 0、is_technical = false)
func whereAccountKey(db *gorm.DB, key domain.AccountKey) *gorm.DB {
	return db.Where("owner_id = ? AND currency_id = ? AND polarity = ? AND is_technical = ?",
		key.OwnerID, key.CurrencyID, key.Polarity.String(), key.Technical)
}

func isDeadlock(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDeadlock
}

var _ usecase.Store = (*MySQLLedger)(nil)
var _ usecase.Tx = (*gormTx)(nil)
