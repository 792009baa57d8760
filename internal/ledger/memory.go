package ledger

import (
	"context"
	"fmt"
	"sync"

	"escrowd/pkg/domain"
)

type balanceKey struct {
	party domain.PartyID
	asset domain.AssetCode
}

// Memory is the in-process ledger used for tests and single-node deployments.
// It tracks external balances, spending allowances granted to the engine, and
// the engine's custody total per asset.
type Memory struct {
	mu         sync.Mutex
	balances   map[balanceKey]int64
	allowances map[balanceKey]int64
	custody    map[domain.AssetCode]int64
}

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[balanceKey]int64),
		allowances: make(map[balanceKey]int64),
		custody:    make(map[domain.AssetCode]int64),
	}
}

// Mint credits a party's external balance. Test and bootstrap helper.
func (m *Memory) Mint(party domain.PartyID, asset domain.AssetCode, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{party, asset}] += amount
}

// Approve grants the engine an allowance to pull funds from a party.
func (m *Memory) Approve(party domain.PartyID, asset domain.AssetCode, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[balanceKey{party, asset}] = amount
}

// Balance reports a party's external balance.
func (m *Memory) Balance(party domain.PartyID, asset domain.AssetCode) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{party, asset}]
}

// Custody reports the engine's custody total for an asset.
func (m *Memory) Custody(asset domain.AssetCode) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.custody[asset]
}

func (m *Memory) Deposit(_ context.Context, payer domain.PartyID, asset domain.AssetCode, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey{payer, asset}
	if m.balances[key] < amount {
		return ErrInsufficientBalance
	}
	if m.allowances[key] < amount {
		return ErrInsufficientAllowance
	}
	m.balances[key] -= amount
	m.allowances[key] -= amount
	m.custody[asset] += amount
	return nil
}

func (m *Memory) Withdraw(_ context.Context, payee domain.PartyID, asset domain.AssetCode, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw amount must be positive, got %d", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.custody[asset] < amount {
		return ErrInsufficientBalance
	}
	m.custody[asset] -= amount
	m.balances[balanceKey{payee, asset}] += amount
	return nil
}
