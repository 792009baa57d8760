package service

import (
	"context"
	"time"

	"escrowd/internal/escrow"
	"escrowd/internal/events"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
)

// RequestRefund opens the timed refund path on a funded escrow. The seller
// declares the fiat payment never arrived; the buyer gets a fixed window to
// contest by raising a dispute before the refund becomes executable.
func (s *Service) RequestRefund(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.requestRefund(ctx, caller, id)
	if err != nil {
		s.countFailure("request_refund", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) requestRefund(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != escrow.StateFunded {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "escrow %d is not funded", id)
	}
	if caller != rec.Seller {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the seller may request a refund")
	}

	p, err := s.params.Get(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parameters")
	}
	rec.RefundDeadline = s.now().Add(p.RefundWindow)
	if err := transition(rec, escrow.StateToRefundTimeout); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist refund request")
	}

	if s.metrics != nil {
		s.metrics.Refunds.Inc()
	}
	s.emit(ctx, events.Event{
		Type:     events.TypeRefundRequested,
		EscrowID: id,
		Actor:    caller,
		Buyer:    rec.Buyer,
		Seller:   rec.Seller,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "refund requested",
			"escrow_id", id, "deadline", rec.RefundDeadline.UTC().Format(time.RFC3339))
	}
	return rec, nil
}

// ExecuteRefund returns the full escrowed asset to the seller once the
// contest window has elapsed without a dispute. No fee is taken on refunds.
func (s *Service) ExecuteRefund(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.executeRefund(ctx, caller, id)
	if err != nil {
		s.countFailure("execute_refund", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) executeRefund(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != escrow.StateToRefundTimeout {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "escrow %d has no pending refund", id)
	}
	if caller != rec.Seller {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the seller may execute the refund")
	}
	now := s.now()
	if rec.RefundDeadline.IsZero() || now.Before(rec.RefundDeadline) {
		return nil, dErrors.Newf(dErrors.CodeExpired, "refund window is still open until %s",
			rec.RefundDeadline.UTC().Format(time.RFC3339))
	}

	rec.Funded = false
	if err := transition(rec, escrow.StateCancelled); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist refund")
	}

	// Custody release after the terminal state is committed.
	if err := s.ledger.Withdraw(ctx, rec.Seller, rec.Asset, rec.AssetAmount); err != nil {
		return nil, wrapLedgerErr(err, "failed to refund seller")
	}
	s.emit(ctx, events.Event{
		Type:        events.TypeRefundExecuted,
		EscrowID:    id,
		Actor:       caller,
		Seller:      rec.Seller,
		Asset:       rec.Asset,
		AssetAmount: rec.AssetAmount,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "refund executed", "escrow_id", id, "seller", rec.Seller)
	}
	return rec, nil
}
