//go:build integration

package mysql

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/mysql"
)

const usd int64 = 1

// setupMySQLLedger 啟動一次性的 MySQL 容器並建立資料表
func setupMySQLLedger(t *testing.T) *MySQLLedger {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx,
		"mysql:8.0",
		tcmysql.WithDatabase("ledger"),
		tcmysql.WithUsername("ledger"),
		tcmysql.WithPassword("ledger"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	client, err := mysql.NewClient(mysql.Config{
		Host:          host,
		Port:          port.Int(),
		User:          "ledger",
		Password:      "ledger",
		DBName:        "ledger",
		LogLevel:      "silent",
		RetryInterval: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ledger := NewMySQLLedger(client, zap.NewNop())
	require.NoError(t, ledger.AutoMigrate(ctx))
	require.NoError(t, ledger.EnsureCurrencies(ctx, domain.Currency{ID: usd, Code: "USD", Name: "US Dollar", Scale: 2}))
	return ledger
}

func TestIntegration_MySQLLedger(t *testing.T) {
	ledger := setupMySQLLedger(t)
	engine := usecase.NewBalanceEngine(ledger, memory.NewLocker(), memory.NewCache())
	core := usecase.NewCoreUseCase(engine)
	ctx := context.Background()

	require.NoError(t, core.Provision(ctx, usd))

	t.Run("deposit and replay", func(t *testing.T) {
		account, err := core.UpdateBalance(ctx, 1, usd, 100, "dep-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), account.Balance)

		account, err = core.UpdateBalance(ctx, 1, usd, 100, "dep-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), account.Balance)

		_, err = core.UpdateBalance(ctx, 1, usd, 5, "dep-1")
		assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := core.UpdateBalance(ctx, 1, usd, -101, "wd-big")
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)

		balance, err := ledger.AccountBalance(ctx, domain.UserKey(1, usd))
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("transfer", func(t *testing.T) {
		entry, err := core.Transfer(ctx, 1, 2, usd, 100, "t-1")
		require.NoError(t, err)
		assert.NotZero(t, entry.ID)

		from, err := ledger.AccountBalance(ctx, domain.UserKey(1, usd))
		require.NoError(t, err)
		to, err := ledger.AccountBalance(ctx, domain.UserKey(2, usd))
		require.NoError(t, err)
		assert.Equal(t, int64(0), from)
		assert.Equal(t, int64(100), to)

		var postings int64
		require.NoError(t, ledger.client.DB().Model(&sqlPosting{}).Where("entry_id = ?", entry.ID).Count(&postings).Error)
		assert.Equal(t, int64(4), postings)
	})

	t.Run("unknown currency", func(t *testing.T) {
		_, err := core.UpdateBalance(ctx, 1, 99, 10, "unknown")
		assert.ErrorIs(t, err, domain.ErrCurrencyNotFound)
	})

	t.Run("concurrent deltas", func(t *testing.T) {
		_, err := core.UpdateBalance(ctx, 3, usd, 100, "seed-3")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i, delta := range []int64{50, -30, 20, -10} {
			wg.Add(1)
			go func(i int, delta int64) {
				defer wg.Done()
				_, err := core.UpdateBalance(ctx, 3, usd, delta, fmt.Sprintf("c-%d", i))
				assert.NoError(t, err)
			}(i, delta)
		}
		wg.Wait()

		balance, err := ledger.AccountBalance(ctx, domain.UserKey(3, usd))
		require.NoError(t, err)
		assert.Equal(t, int64(130), balance)
	})

	t.Run("balances and reconcile", func(t *testing.T) {
		balances, err := core.GetAllBalances(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []domain.Balance{{CurrencyCode: "USD", Balance: 100, Scale: 2}}, balances)

		empty, err := core.GetAllBalances(ctx, 404)
		require.NoError(t, err)
		assert.Empty(t, empty)

		totals, err := core.Reconcile(ctx, usd)
		require.NoError(t, err)
		assert.Equal(t, int64(230), totals.Normal)
		assert.Equal(t, int64(-230), totals.Technical)
	})
}
