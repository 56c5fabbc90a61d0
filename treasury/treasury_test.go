package treasury

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weallnet/weall/identity"
)

func newTreasury(t *testing.T) *Treasury {
	t.Helper()
	ledger := identity.NewLedger(nil)
	_, err := ledger.Register("alice", 3)
	require.NoError(t, err)
	return New(ledger, nil)
}

func TestDepositFunds(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		bank := newTreasury(t)
		balance, err := bank.DepositFunds("alice", "grants", 100)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)

		balance, err = bank.DepositFunds("alice", "grants", 50)
		require.NoError(t, err)
		assert.Equal(t, int64(150), balance)
		assert.Equal(t, int64(150), bank.Balance("grants"))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		bank := newTreasury(t)
		for _, amount := range []int64{0, -5} {
			_, err := bank.DepositFunds("alice", "grants", amount)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		}
		assert.Equal(t, int64(0), bank.Balance("grants"), "failed deposit leaves balance unchanged")
	})

	t.Run("unknown identity", func(t *testing.T) {
		bank := newTreasury(t)
		_, err := bank.DepositFunds("nobody", "grants", 10)
		assert.ErrorIs(t, err, identity.ErrUnknownIdentity)
	})
}

func TestDisburse(t *testing.T) {
	bank := newTreasury(t)
	_, err := bank.DepositFunds("alice", "grants", 100)
	require.NoError(t, err)

	balance, err := bank.Disburse("grants", 60, "proposal 1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := bank.Disburse("grants", 41, "proposal 2")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, int64(40), bank.Balance("grants"), "failed disbursement mutates nothing")
	})

	t.Run("empty pool", func(t *testing.T) {
		_, err := bank.Disburse("unknown-pool", 1, "")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := bank.Disburse("grants", 0, "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestBalances(t *testing.T) {
	bank := newTreasury(t)
	_, err := bank.DepositFunds("alice", "grants", 10)
	require.NoError(t, err)
	_, err = bank.DepositFunds("alice", "ops", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"grants", "ops"}, bank.Pools())
	assert.Equal(t, map[string]int64{"grants": 10, "ops": 5}, bank.Balances())
}
