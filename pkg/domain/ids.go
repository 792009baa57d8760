package domain

import (
	"fmt"
	"strconv"
)

// EscrowID identifies an escrow record. IDs are assigned sequentially by the
// escrow store starting at 1 and are never reused; 0 is the nil value.
type EscrowID uint64

// ParseEscrowID constructs an EscrowID from external input.
func ParseEscrowID(s string) (EscrowID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid escrow id: %q", s)
	}
	return EscrowID(n), nil
}

func (id EscrowID) IsNil() bool { return id == 0 }

func (id EscrowID) String() string { return strconv.FormatUint(uint64(id), 10) }

// DisputeID identifies a dispute record. Assigned sequentially like EscrowID.
type DisputeID uint64

// ParseDisputeID constructs a DisputeID from external input.
func ParseDisputeID(s string) (DisputeID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid dispute id: %q", s)
	}
	return DisputeID(n), nil
}

func (id DisputeID) IsNil() bool { return id == 0 }

func (id DisputeID) String() string { return strconv.FormatUint(uint64(id), 10) }

// PartyID identifies a counterparty account. The engine treats it as an opaque
// identifier; custody and balances are keyed by it in the asset ledger.
type PartyID string

func (p PartyID) IsNil() bool { return p == "" }

func (p PartyID) String() string { return string(p) }

// AssetCode identifies a transferable asset. Only whitelisted assets may be
// escrowed; the whitelist is owned by governance.
type AssetCode string

func (a AssetCode) IsNil() bool { return a == "" }

func (a AssetCode) String() string { return string(a) }

// CurrencyCode is an ISO-4217 style fiat currency code. Fiat amounts are
// always expressed in minor units of this currency.
type CurrencyCode string

func (c CurrencyCode) IsNil() bool { return c == "" }

func (c CurrencyCode) String() string { return string(c) }
