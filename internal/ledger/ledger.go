// Package ledger defines the asset custody primitive the escrow engine settles
// against. The engine never inspects balances directly; it only moves value in
// and out of its own custody through this interface.
package ledger

import (
	"context"
	"errors"

	"escrowd/pkg/domain"
)

// Failure sentinels returned by ledger implementations.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger is the atomic custody transfer primitive. Deposit debits the payer's
// external balance and credits engine custody; Withdraw does the reverse.
// Either the full movement commits or none of it does.
type Ledger interface {
	Deposit(ctx context.Context, payer domain.PartyID, asset domain.AssetCode, amount int64) error
	Withdraw(ctx context.Context, payee domain.PartyID, asset domain.AssetCode, amount int64) error
}
