package service

import (
	"context"
	"time"

	"escrowd/internal/escrow"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
)

// BeginDispute moves a funded escrow into the disputed state on behalf of the
// dispute module. Raising a dispute from the refund-timeout state voids the
// pending refund; arbitration takes precedence over the timed path.
func (s *Service) BeginDispute(ctx context.Context, caller domain.PartyID, id domain.EscrowID, disputeID domain.DisputeID) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.beginDispute(ctx, caller, id, disputeID)
	if err != nil {
		s.countFailure("begin_dispute", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) beginDispute(ctx context.Context, caller domain.PartyID, id domain.EscrowID, disputeID domain.DisputeID) (*escrow.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != escrow.StateFunded && rec.State != escrow.StateToRefundTimeout {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "escrow %d cannot be disputed in state %s", id, rec.State)
	}
	if !rec.IsParticipant(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only a participant may raise a dispute")
	}
	if !rec.DisputeID.IsNil() {
		return nil, dErrors.Newf(dErrors.CodeConflict, "escrow %d is already under dispute", id)
	}

	rec.DisputeID = disputeID
	rec.RefundDeadline = time.Time{}
	if err := transition(rec, escrow.StateDisputed); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist dispute")
	}
	if s.metrics != nil {
		s.metrics.DisputesRaised.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "escrow disputed",
			"escrow_id", id, "dispute_id", disputeID, "raised_by", caller)
	}
	return rec, nil
}

// SettleDispute pays out a disputed escrow per the arbitrator's verdict: the
// arbitration fee goes to the arbitrator, the remainder to the winner. The
// dispute module validates the verdict; this applies its custody effects.
func (s *Service) SettleDispute(ctx context.Context, id domain.EscrowID, winner, arbitrator domain.PartyID, arbitrationFee int64) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.settleDispute(ctx, id, winner, arbitrator, arbitrationFee)
	if err != nil {
		s.countFailure("settle_dispute", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) settleDispute(ctx context.Context, id domain.EscrowID, winner, arbitrator domain.PartyID, arbitrationFee int64) (*escrow.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != escrow.StateDisputed {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "escrow %d is not under dispute", id)
	}
	if !rec.IsParticipant(winner) {
		return nil, dErrors.New(dErrors.CodeValidation, "winner must be a participant in the escrow")
	}
	if arbitrationFee < 0 || arbitrationFee >= rec.AssetAmount {
		return nil, dErrors.Newf(dErrors.CodeInsufficientFunds,
			"escrowed amount %d cannot cover the arbitration fee %d", rec.AssetAmount, arbitrationFee)
	}
	payout := rec.AssetAmount - arbitrationFee

	rec.Funded = false
	if err := transition(rec, escrow.StateCompleted); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist settlement")
	}

	// Custody releases after the terminal state is committed: winner first,
	// then the arbitrator's compensation.
	if err := s.ledger.Withdraw(ctx, winner, rec.Asset, payout); err != nil {
		return nil, wrapLedgerErr(err, "failed to pay out dispute winner")
	}
	if arbitrationFee > 0 {
		if err := s.ledger.Withdraw(ctx, arbitrator, rec.Asset, arbitrationFee); err != nil {
			return nil, wrapLedgerErr(err, "failed to pay the arbitrator")
		}
	}
	if s.metrics != nil {
		s.metrics.DisputesResolved.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "dispute settled",
			"escrow_id", id, "winner", winner, "payout", payout, "arbitration_fee", arbitrationFee)
	}
	return rec, nil
}
