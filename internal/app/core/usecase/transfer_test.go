package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

func TestTransfer_MovesFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 1, usd, 100)
	before := len(f.store.Entries())

	entry, err := f.core.Transfer(ctx, 1, 2, usd, 100, "t-1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, int64(0), f.balance(t, 1, usd))
	assert.Equal(t, int64(100), f.balance(t, 2, usd))
	assert.Len(t, f.store.Entries(), before+1, "exactly one ledger entry per transfer")
	assert.Equal(t, domain.EntryKindTransfer, entry.Kind)
	assert.Equal(t, int64(100), entry.Amount)
	assert.Equal(t, "t-1", entry.ClientTxID)

	// 四筆拆帳，淨額為 0
	postings := f.store.Postings(entry.ID)
	require.Len(t, postings, 4)
	var net int64
	for _, p := range postings {
		net += p.Amount
	}
	assert.Zero(t, net)

	f.assertBalanced(t, usd)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 1, usd, 30)
	before := len(f.store.Entries())

	_, err := f.core.Transfer(ctx, 1, 2, usd, 100, "t-short")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, int64(30), f.balance(t, 1, usd))
	assert.Equal(t, int64(0), f.balance(t, 2, usd))
	assert.Len(t, f.store.Entries(), before)
	f.assertBalanced(t, usd)
}

func TestTransfer_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 1, usd, 100)

	_, err := f.core.Transfer(ctx, 1, 2, usd, -10, "neg")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.core.Transfer(ctx, 0, 2, usd, 10, "sys-from")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.core.Transfer(ctx, 1, 0, usd, 10, "sys-to")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.core.Transfer(ctx, 1, 2, usd, 10, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	assert.Equal(t, int64(100), f.balance(t, 1, usd))
}

func TestTransfer_Replay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 1, usd, 100)

	first, err := f.core.Transfer(ctx, 1, 2, usd, 60, "t-replay")
	require.NoError(t, err)
	again, err := f.core.Transfer(ctx, 1, 2, usd, 60, "t-replay")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(40), f.balance(t, 1, usd))
	assert.Equal(t, int64(60), f.balance(t, 2, usd))

	// 同一個 client_tx_id 不同金額
	_, err = f.core.Transfer(ctx, 1, 2, usd, 10, "t-replay")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	// 同一個 client_tx_id 不能拿來當 delta
	_, err = f.core.UpdateBalance(ctx, 1, usd, 60, "t-replay")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.Equal(t, int64(40), f.balance(t, 1, usd))
}

func TestTransfer_SameOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 1, usd, 50)

	_, err := f.core.Transfer(ctx, 1, 1, usd, 50, "self")
	require.NoError(t, err)
	assert.Equal(t, int64(50), f.balance(t, 1, usd))
	f.assertBalanced(t, usd)

	_, err = f.core.Transfer(ctx, 1, 1, usd, 51, "self-overdraw")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestTransfer_InvalidatesBothCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 1, usd, 100)

	from, err := f.core.GetBalance(ctx, 1, usd)
	require.NoError(t, err)
	to, err := f.core.GetBalance(ctx, 2, usd)
	require.NoError(t, err)
	assert.Equal(t, int64(100), from)
	assert.Equal(t, int64(0), to)

	_, err = f.core.Transfer(ctx, 1, 2, usd, 25, "t-cache")
	require.NoError(t, err)

	from, err = f.core.GetBalance(ctx, 1, usd)
	require.NoError(t, err)
	to, err = f.core.GetBalance(ctx, 2, usd)
	require.NoError(t, err)
	assert.Equal(t, int64(75), from)
	assert.Equal(t, int64(25), to)
}

func TestTransfer_LockBusyLeavesBalances(t *testing.T) {
	f := newFixture(t, usecase.WithLockScope(usecase.LockScopeAccount))
	ctx := context.Background()
	f.deposit(t, 1, usd, 100)

	handle, ok, err := f.locker.TryLock(ctx, domain.AccountLockKey(2, usd), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.core.Transfer(ctx, 1, 2, usd, 10, "t-busy")
	require.ErrorIs(t, err, domain.ErrLockAcquisition)
	assert.Equal(t, int64(100), f.balance(t, 1, usd))

	// 已取得的 from 鎖必須被釋放
	h2, ok, err := f.locker.TryLock(ctx, domain.AccountLockKey(1, usd), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, h2.Unlock(ctx))
	require.NoError(t, handle.Unlock(ctx))
}

// 交叉轉帳 (A->B 與 B->A 同時) 不會死鎖，總額不變
func TestTransfer_OpposingTransfersDoNotDeadlock(t *testing.T) {
	for _, scope := range []usecase.LockScope{usecase.LockScopeOperation, usecase.LockScopeAccount} {
		t.Run(scope.String(), func(t *testing.T) {
			f := newFixture(t, usecase.WithLockScope(scope))
			f.deposit(t, 1, usd, 1000)
			f.deposit(t, 2, usd, 1000)

			const rounds = 50
			var wg sync.WaitGroup
			for i := 0; i < rounds; i++ {
				for _, pair := range [][2]int64{{1, 2}, {2, 1}} {
					wg.Add(1)
					go func(from, to int64, i int) {
						defer wg.Done()
						txID := fmt.Sprintf("x-%d-%d-%d", from, to, i)
						ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						for {
							_, err := f.core.Transfer(ctx, from, to, usd, 3, txID)
							if !domain.IsRetryable(err) || ctx.Err() != nil {
								assert.NoError(t, err)
								return
							}
							time.Sleep(time.Millisecond)
						}
					}(pair[0], pair[1], i)
				}
			}
			wg.Wait()

			assert.Equal(t, int64(1000), f.balance(t, 1, usd))
			assert.Equal(t, int64(1000), f.balance(t, 2, usd))
			f.assertBalanced(t, usd)
		})
	}
}

func TestTransfer_PublishesEvent(t *testing.T) {
	publisher := &recordingPublisher{}
	f := newFixture(t, usecase.WithPublisher(publisher))
	ctx := context.Background()
	f.deposit(t, 1, usd, 10)

	_, err := f.core.Transfer(ctx, 1, 2, usd, 10, "t-event")
	require.NoError(t, err)

	require.Len(t, publisher.events, 2)
	committed, ok := publisher.events[1].(domain.TransferCommitted)
	require.True(t, ok)
	assert.Equal(t, "t-event", committed.ClientTxID)
	assert.Equal(t, int64(1), committed.FromOwnerID)
	assert.Equal(t, int64(2), committed.ToOwnerID)
	assert.Equal(t, int64(10), committed.Amount)
}

func TestProvision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.core.Provision(ctx, usd, eur))
	require.NoError(t, f.core.Provision(ctx, usd), "provision is idempotent")

	totals, err := f.core.Reconcile(ctx, usd)
	require.NoError(t, err)
	assert.Zero(t, totals.Normal)
	assert.Zero(t, totals.Technical)

	err = f.core.Provision(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestResolver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolver := f.engine.Resolver()

	err := f.store.Transaction(ctx, func(ctx context.Context, tx usecase.Tx) error {
		user, err := resolver.ResolveAccount(ctx, tx, 5, usd)
		require.NoError(t, err)
		assert.Equal(t, domain.UserKey(5, usd), user.Key())

		again, err := resolver.ResolveAccount(ctx, tx, 5, usd)
		require.NoError(t, err)
		assert.Equal(t, user.ID, again.ID)

		credit, err := resolver.ResolveTechnicalAccount(ctx, tx, usd, domain.PolarityCredit)
		require.NoError(t, err)
		assert.True(t, credit.Technical)
		assert.Equal(t, domain.SystemOwnerID, credit.OwnerID)
		assert.NotEqual(t, user.ID, credit.ID)

		_, err = resolver.ResolveTechnicalAccount(ctx, tx, usd, domain.PolarityNormal)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)

		_, err = resolver.ResolveAccount(ctx, tx, domain.SystemOwnerID, usd)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		return nil
	})
	require.NoError(t, err)
}
