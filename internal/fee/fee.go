// Package fee computes the settlement fee retained by the engine at
// completion. The computation is pure and parameter-driven so it can be
// evaluated exactly once per escrow with the parameters in force at that
// instant.
package fee

import (
	dErrors "escrowd/pkg/domain-errors"
)

// Schedule is a snapshot of the fee parameters. Bps applies to the fiat
// notional; Min and Max clamp the result. The clamps are fiat-denominated but
// the fee is subtracted from the asset principal, assuming a 1:1 fiat:asset
// rate. This is a deliberate simplification of the settlement model, not a
// bug: there is no price oracle in this engine.
type Schedule struct {
	Bps int64
	Min int64
	Max int64
}

// Fee returns clamp(fiatAmount*Bps/10000, Min, Max).
func (s Schedule) Fee(fiatAmount int64) int64 {
	f := fiatAmount * s.Bps / 10_000
	if f < s.Min {
		f = s.Min
	}
	if f > s.Max {
		f = s.Max
	}
	return f
}

// Split computes the completion payout. The conservation invariant
// payout+fee == assetAmount holds for every successful split; a fee that
// would consume the full principal is rejected.
func (s Schedule) Split(assetAmount, fiatAmount int64) (payout, fee int64, err error) {
	fee = s.Fee(fiatAmount)
	if fee >= assetAmount {
		return 0, 0, dErrors.Newf(dErrors.CodeInsufficientFunds,
			"fee %d consumes entire principal %d", fee, assetAmount)
	}
	return assetAmount - fee, fee, nil
}
