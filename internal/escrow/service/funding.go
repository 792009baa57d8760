package service

import (
	"context"
	"time"

	"escrowd/internal/escrow"
	"escrowd/internal/events"
	"escrowd/internal/fee"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
)

// FundEscrow deposits the seller's asset into custody for an accepted but
// still unfunded escrow. Only the designated seller may fund, and only while
// the proposal timeout has not elapsed.
func (s *Service) FundEscrow(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.fundEscrow(ctx, caller, id)
	if err != nil {
		s.countFailure("fund_escrow", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) fundEscrow(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != escrow.StateAccepted {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "escrow %d is not awaiting funding", id)
	}
	if caller != rec.Seller {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the seller may fund the escrow")
	}
	now := s.now()
	if rec.Expired(now) {
		return nil, dErrors.Newf(dErrors.CodeExpired, "escrow %d expired at %s", id, rec.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if err := s.ledger.Deposit(ctx, caller, rec.Asset, rec.AssetAmount); err != nil {
		return nil, wrapLedgerErr(err, "failed to escrow asset")
	}
	rec.Funded = true
	rec.FundedAt = now
	if err := transition(rec, escrow.StateFunded); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		if werr := s.ledger.Withdraw(ctx, caller, rec.Asset, rec.AssetAmount); werr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to return escrowed asset after store failure",
				"party", caller, "asset", rec.Asset, "error", werr)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist funding")
	}

	s.markFunded(ctx, rec, caller)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "escrow funded", "escrow_id", id, "seller", caller)
	}
	return rec, nil
}

// CompleteTransaction settles a funded escrow. The seller confirms the
// off-ledger fiat payment arrived; the engine splits the custody between the
// buyer's payout and the protocol fee. The funded-state guard makes a repeat
// call fail rather than pay out twice.
func (s *Service) CompleteTransaction(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.completeTransaction(ctx, caller, id)
	if err != nil {
		s.countFailure("complete_transaction", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) completeTransaction(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != escrow.StateFunded {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "escrow %d is not funded", id)
	}
	if caller != rec.Seller {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the seller may complete the transaction")
	}

	p, err := s.params.Get(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parameters")
	}
	schedule := fee.Schedule{Bps: p.FeeBps, Min: p.MinFee, Max: p.MaxFee}
	payout, protocolFee, err := schedule.Split(rec.AssetAmount, rec.FiatAmount)
	if err != nil {
		return nil, err
	}

	// Release custody before the state write. The entry-point lock is held,
	// so the recipient cannot re-enter the engine mid-payout, and a ledger
	// failure here aborts with the record untouched.
	if err := s.ledger.Withdraw(ctx, rec.Buyer, rec.Asset, payout); err != nil {
		return nil, wrapLedgerErr(err, "failed to pay out buyer")
	}
	rec.Funded = false
	if err := transition(rec, escrow.StateCompleted); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist completion")
	}
	s.gov.AccrueFee(rec.Asset, protocolFee)

	if s.metrics != nil {
		s.metrics.Completions.Inc()
		s.metrics.FeesAccrued.Add(float64(protocolFee))
	}
	s.emit(ctx, events.Event{
		Type:        events.TypeTransactionCompleted,
		EscrowID:    id,
		Actor:       caller,
		Buyer:       rec.Buyer,
		Seller:      rec.Seller,
		Asset:       rec.Asset,
		AssetAmount: payout,
		FiatAmount:  rec.FiatAmount,
		Fee:         protocolFee,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "transaction completed",
			"escrow_id", id, "payout", payout, "fee", protocolFee, "buyer", rec.Buyer)
	}
	return rec, nil
}
