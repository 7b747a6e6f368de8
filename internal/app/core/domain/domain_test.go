package domain

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_Apply(t *testing.T) {
	user := &Account{ID: 1, OwnerID: 7, CurrencyID: 1, Balance: 10}
	require.NoError(t, user.Apply(-10))
	assert.Equal(t, int64(0), user.Balance)

	err := user.Apply(-1)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(0), user.Balance, "balance unchanged on failure")

	tech := &Account{ID: 2, CurrencyID: 1, Technical: true, Polarity: PolarityCredit}
	require.NoError(t, tech.Apply(-500))
	assert.Equal(t, int64(-500), tech.Balance)
}

func TestAccount_ApplyOverflow(t *testing.T) {
	user := &Account{ID: 1, OwnerID: 7, CurrencyID: 1, Balance: math.MaxInt64}
	err := user.Apply(1)
	require.ErrorIs(t, err, ErrBalanceOverflow)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(math.MaxInt64), user.Balance)

	credit := &Account{ID: 2, CurrencyID: 1, Technical: true, Polarity: PolarityCredit, Balance: -math.MaxInt64}
	require.NoError(t, credit.Apply(-1))
	assert.Equal(t, int64(math.MinInt64), credit.Balance)
	require.ErrorIs(t, credit.Apply(-1), ErrBalanceOverflow)
	assert.Equal(t, int64(math.MinInt64), credit.Balance)

	debit := &Account{ID: 3, CurrencyID: 1, Technical: true, Polarity: PolarityDebit, Balance: math.MaxInt64 - 1}
	require.ErrorIs(t, debit.Apply(2), ErrBalanceOverflow)
	require.NoError(t, debit.Apply(1))
	assert.Equal(t, int64(math.MaxInt64), debit.Balance)
}

func TestAccountKey_Compare(t *testing.T) {
	keys := []AccountKey{
		TechnicalKey(2, PolarityDebit),
		UserKey(9, 2),
		TechnicalKey(1, PolarityDebit),
		UserKey(3, 1),
		TechnicalKey(1, PolarityCredit),
		UserKey(1, 1),
	}
	slices.SortFunc(keys, AccountKey.Compare)

	assert.Equal(t, []AccountKey{
		UserKey(1, 1),
		UserKey(3, 1),
		TechnicalKey(1, PolarityCredit),
		TechnicalKey(1, PolarityDebit),
		UserKey(9, 2),
		TechnicalKey(2, PolarityDebit),
	}, keys)

	assert.Zero(t, UserKey(1, 1).Compare(UserKey(1, 1)))
	assert.Equal(t, UserKey(4, 2), (&Account{OwnerID: 4, CurrencyID: 2}).Key())
}

func TestPolarity(t *testing.T) {
	for _, p := range []Polarity{PolarityNormal, PolarityCredit, PolarityDebit} {
		parsed, err := ParsePolarity(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePolarity("sideways")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBalance_Formatted(t *testing.T) {
	cases := []struct {
		balance Balance
		want    string
	}{
		{Balance{Balance: 12345, Scale: 2}, "123.45"},
		{Balance{Balance: 5, Scale: 2}, "0.05"},
		{Balance{Balance: 0, Scale: 2}, "0.00"},
		{Balance{Balance: 500, Scale: 0}, "500"},
		{Balance{Balance: 9223372036854775807, Scale: 8}, "92233720368.54775807"},
		{Balance{Balance: -150, Scale: 2}, "-1.50"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.balance.Formatted())
	}
}

func TestLedgerEntry_SameOperation(t *testing.T) {
	base := &LedgerEntry{FromAccountID: 1, ToAccountID: 2, Amount: 100, Kind: EntryKindTransfer, ClientTxID: "a"}

	same := *base
	same.ID = 99
	assert.True(t, base.SameOperation(&same))

	other := *base
	other.Amount = 101
	assert.False(t, base.SameOperation(&other))

	other = *base
	other.Kind = EntryKindDelta
	assert.False(t, base.SameOperation(&other))
}

func TestErrors(t *testing.T) {
	assert.ErrorIs(t, ErrIdempotencyConflict, ErrInvalidArgument)
	assert.ErrorIs(t, ErrCurrencyNotFound, ErrInvalidArgument)
	assert.ErrorIs(t, ErrBalanceOverflow, ErrInvalidArgument)

	err := InvalidArgument("bad %d", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "bad 1")

	cause := errors.New("connection reset")
	wrapped := StoreFailure(cause)
	assert.ErrorIs(t, wrapped, ErrStore)
	assert.ErrorIs(t, wrapped, cause)
	assert.Same(t, wrapped, StoreFailure(wrapped))
	assert.NoError(t, StoreFailure(nil))

	assert.True(t, IsRetryable(ErrLockAcquisition))
	assert.False(t, IsRetryable(ErrInsufficientFunds))
}

func TestKeysAndEvents(t *testing.T) {
	assert.Equal(t, "balance:user_5:currency_2", BalanceCacheKey(5, 2))
	assert.Equal(t, "walletLock:tx_abc", OperationLockKey("abc"))
	assert.Equal(t, "walletLock:user_5:currency_2", AccountLockKey(5, 2))

	var ev Event = BalanceChanged{ClientTxID: "x"}
	assert.Equal(t, "ledger.balance_changed", ev.Topic())
	assert.Equal(t, "x", ev.Key())
	ev = TransferCommitted{ClientTxID: "y"}
	assert.Equal(t, "ledger.transfer_committed", ev.Topic())
	assert.Equal(t, "y", ev.Key())
	assert.True(t, Totals{Normal: 5, Technical: -5}.Balanced())
	assert.False(t, Totals{Normal: 5, Technical: -4}.Balanced())
}
