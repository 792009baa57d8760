package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowd/pkg/domain"
)

const asset = domain.AssetCode("TOK")

func TestDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Mint("alice", asset, 1000)
	m.Approve("alice", asset, 1000)

	require.NoError(t, m.Deposit(ctx, "alice", asset, 400))
	assert.Equal(t, int64(600), m.Balance("alice", asset))
	assert.Equal(t, int64(400), m.Custody(asset))

	require.NoError(t, m.Withdraw(ctx, "bob", asset, 400))
	assert.Equal(t, int64(400), m.Balance("bob", asset))
	assert.Equal(t, int64(0), m.Custody(asset))
}

func TestDepositFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient balance", func(t *testing.T) {
		m := NewMemory()
		m.Approve("alice", asset, 1000)
		err := m.Deposit(ctx, "alice", asset, 100)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, int64(0), m.Custody(asset))
	})

	t.Run("insufficient allowance", func(t *testing.T) {
		m := NewMemory()
		m.Mint("alice", asset, 1000)
		m.Approve("alice", asset, 50)
		err := m.Deposit(ctx, "alice", asset, 100)
		assert.ErrorIs(t, err, ErrInsufficientAllowance)
		assert.Equal(t, int64(1000), m.Balance("alice", asset))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		m := NewMemory()
		assert.Error(t, m.Deposit(ctx, "alice", asset, 0))
		assert.Error(t, m.Deposit(ctx, "alice", asset, -5))
	})
}

func TestWithdrawExceedingCustody(t *testing.T) {
	m := NewMemory()
	err := m.Withdraw(context.Background(), "bob", asset, 10)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}
