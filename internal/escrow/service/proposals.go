package service

import (
	"context"
	"time"

	"escrowd/internal/escrow"
	"escrowd/internal/events"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
)

// CreateRequest carries the negotiated terms of a new proposal.
type CreateRequest struct {
	Counterparty domain.PartyID
	Asset        domain.AssetCode
	AssetAmount  int64
	FiatAmount   int64
	FiatCurrency domain.CurrencyCode
	Timeout      time.Duration
}

// CreateProposal registers an unfunded proposal. The caller takes no role
// yet: whether they end up seller or buyer is fixed at acceptance time.
func (s *Service) CreateProposal(ctx context.Context, caller domain.PartyID, req CreateRequest) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.createProposal(ctx, caller, req, false)
	if err != nil {
		s.countFailure("create_proposal", err)
		return nil, err
	}
	return rec, nil
}

// CreateProposalWithFunding registers a proposal and escrows the caller's
// asset in the same step, fixing the caller as seller and the counterparty
// as buyer immediately.
func (s *Service) CreateProposalWithFunding(ctx context.Context, caller domain.PartyID, req CreateRequest) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.createProposal(ctx, caller, req, true)
	if err != nil {
		s.countFailure("create_proposal_with_funding", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) createProposal(ctx context.Context, caller domain.PartyID, req CreateRequest, fundNow bool) (*escrow.Record, error) {
	p, err := s.params.Get(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parameters")
	}

	if caller == "" || req.Counterparty == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "both parties are required")
	}
	if caller == req.Counterparty {
		return nil, dErrors.New(dErrors.CodeValidation, "counterparty must differ from initiator")
	}
	if req.AssetAmount <= 0 || req.FiatAmount <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "asset and fiat amounts must be positive")
	}
	if req.FiatAmount > p.MaxFiatAmount {
		return nil, dErrors.Newf(dErrors.CodeValidation, "fiat amount exceeds maximum of %d", p.MaxFiatAmount)
	}
	if req.Timeout < p.MinTimeout || req.Timeout > p.MaxTimeout {
		return nil, dErrors.Newf(dErrors.CodeValidation, "timeout must be between %s and %s", p.MinTimeout, p.MaxTimeout)
	}
	if !s.gov.IsAssetSupported(req.Asset) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "asset %s is not supported", req.Asset)
	}
	if err := s.requireKYC(caller); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.volume.Reserve(ctx, caller, req.FiatAmount, p.DailyVolumeCap, now); err != nil {
		return nil, err
	}

	rec := &escrow.Record{
		Initiator:    caller,
		Counterparty: req.Counterparty,
		Asset:        req.Asset,
		AssetAmount:  req.AssetAmount,
		FiatAmount:   req.FiatAmount,
		FiatCurrency: req.FiatCurrency,
		Timeout:      req.Timeout,
		CreatedAt:    now,
		ExpiresAt:    now.Add(req.Timeout),
		State:        escrow.StateProposed,
	}

	if fundNow {
		// The funding creator is the seller; the counterparty will pay fiat
		// off the books and receive the asset on completion.
		rec.AssignRoles(caller, req.Counterparty)
		if err := s.ledger.Deposit(ctx, caller, req.Asset, req.AssetAmount); err != nil {
			s.releaseVolume(ctx, caller, req.FiatAmount, now)
			return nil, wrapLedgerErr(err, "failed to escrow asset")
		}
		rec.Funded = true
		rec.FundedAt = now
	}

	id, err := s.store.Create(ctx, rec)
	if err != nil {
		if fundNow {
			// Undo the custody taken above so a storage failure leaves no
			// stranded balance.
			if werr := s.ledger.Withdraw(ctx, caller, req.Asset, req.AssetAmount); werr != nil && s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to return escrowed asset after store failure",
					"party", caller, "asset", req.Asset, "error", werr)
			}
		}
		s.releaseVolume(ctx, caller, req.FiatAmount, now)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist proposal")
	}
	rec.ID = id

	if s.metrics != nil {
		s.metrics.ProposalsCreated.Inc()
	}
	s.emit(ctx, events.Event{
		Type:        events.TypeProposalCreated,
		EscrowID:    id,
		Actor:       caller,
		Asset:       req.Asset,
		AssetAmount: req.AssetAmount,
		FiatAmount:  req.FiatAmount,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "proposal created",
			"escrow_id", id, "initiator", caller, "counterparty", req.Counterparty,
			"asset", req.Asset, "funded", fundNow)
	}
	return rec, nil
}

// AcceptProposal accepts an open proposal. Acceptance fixes the trade roles:
// the initiator becomes the seller and the acceptor the buyer, regardless of
// whether the proposal was pre-funded.
func (s *Service) AcceptProposal(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.acceptProposal(ctx, caller, id)
	if err != nil {
		s.countFailure("accept_proposal", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) acceptProposal(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkAcceptance(ctx, caller, rec); err != nil {
		return nil, err
	}

	// Initiator sells, acceptor buys. With a pre-funded proposal the asset is
	// already in custody, so acceptance completes the funding transition; an
	// unfunded proposal waits for the seller's explicit deposit.
	rec.AssignRoles(rec.Initiator, caller)
	next := escrow.StateAccepted
	if rec.Funded {
		next = escrow.StateFunded
	}
	if err := transition(rec, next); err != nil {
		s.releaseVolume(ctx, caller, rec.FiatAmount, s.now())
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		s.releaseVolume(ctx, caller, rec.FiatAmount, s.now())
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist acceptance")
	}

	s.emit(ctx, events.Event{
		Type:     events.TypeProposalAccepted,
		EscrowID: rec.ID,
		Actor:    caller,
		Buyer:    rec.Buyer,
		Seller:   rec.Seller,
	})
	if rec.State == escrow.StateFunded {
		s.markFunded(ctx, rec, caller)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "proposal accepted",
			"escrow_id", rec.ID, "buyer", rec.Buyer, "seller", rec.Seller, "state", rec.State)
	}
	return rec, nil
}

// AcceptProposalWithFunding accepts an unfunded proposal and escrows the
// acceptor's asset in the same step. This inverts the roles: the acceptor is
// the seller and the initiator the buyer.
func (s *Service) AcceptProposalWithFunding(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.acceptProposalWithFunding(ctx, caller, id)
	if err != nil {
		s.countFailure("accept_proposal_with_funding", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) acceptProposalWithFunding(ctx context.Context, caller domain.PartyID, id domain.EscrowID) (*escrow.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Funded {
		return nil, dErrors.Newf(dErrors.CodeConflict, "escrow %d is already funded", id)
	}
	if err := s.checkAcceptance(ctx, caller, rec); err != nil {
		return nil, err
	}

	// Acceptor sells, initiator buys.
	rec.AssignRoles(caller, rec.Initiator)
	if err := s.ledger.Deposit(ctx, caller, rec.Asset, rec.AssetAmount); err != nil {
		s.releaseVolume(ctx, caller, rec.FiatAmount, s.now())
		return nil, wrapLedgerErr(err, "failed to escrow asset")
	}
	rec.Funded = true
	rec.FundedAt = s.now()
	if err := transition(rec, escrow.StateFunded); err != nil {
		s.releaseVolume(ctx, caller, rec.FiatAmount, s.now())
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		if werr := s.ledger.Withdraw(ctx, caller, rec.Asset, rec.AssetAmount); werr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to return escrowed asset after store failure",
				"party", caller, "asset", rec.Asset, "error", werr)
		}
		s.releaseVolume(ctx, caller, rec.FiatAmount, s.now())
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist acceptance")
	}

	s.emit(ctx, events.Event{
		Type:     events.TypeProposalAccepted,
		EscrowID: rec.ID,
		Actor:    caller,
		Buyer:    rec.Buyer,
		Seller:   rec.Seller,
	})
	s.markFunded(ctx, rec, caller)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "proposal accepted with funding",
			"escrow_id", rec.ID, "buyer", rec.Buyer, "seller", rec.Seller)
	}
	return rec, nil
}

// checkAcceptance holds the guards shared by both acceptance paths. Note the
// acceptor's fiat notional is charged against their daily cap even though the
// initiator was already charged for the same trade at creation; both sides of
// a bilateral trade consume their own allowance.
func (s *Service) checkAcceptance(ctx context.Context, caller domain.PartyID, rec *escrow.Record) error {
	if rec.State != escrow.StateProposed {
		return dErrors.Newf(dErrors.CodeInvalidState, "escrow %d is not open for acceptance", rec.ID)
	}
	if !rec.IsParticipant(caller) {
		return dErrors.New(dErrors.CodeForbidden, "caller is not a participant in this escrow")
	}
	if rec.IsInitiator(caller) {
		return dErrors.New(dErrors.CodeForbidden, "initiator cannot accept their own proposal")
	}
	now := s.now()
	if rec.Expired(now) {
		return dErrors.Newf(dErrors.CodeExpired, "escrow %d expired at %s", rec.ID, rec.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if err := s.requireKYC(caller); err != nil {
		return err
	}
	p, err := s.params.Get(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parameters")
	}
	return s.volume.Reserve(ctx, caller, rec.FiatAmount, p.DailyVolumeCap, now)
}

// RejectProposal declines a proposal the caller did not initiate. A funded
// proposal returns the escrowed asset to the depositor.
func (s *Service) RejectProposal(ctx context.Context, caller domain.PartyID, id domain.EscrowID, reason string) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.closeProposal(ctx, caller, id, reason, escrow.StateRejected)
	if err != nil {
		s.countFailure("reject_proposal", err)
		return nil, err
	}
	return rec, nil
}

// CancelProposal withdraws a proposal. The initiator may cancel while the
// escrow is still proposed or accepted; the counterparty may only cancel an
// open proposal (once accepted, their exit is rejection or the refund path).
func (s *Service) CancelProposal(ctx context.Context, caller domain.PartyID, id domain.EscrowID, reason string) (*escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.closeProposal(ctx, caller, id, reason, escrow.StateCancelled)
	if err != nil {
		s.countFailure("cancel_proposal", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) closeProposal(ctx context.Context, caller domain.PartyID, id domain.EscrowID, reason string, next escrow.State) (*escrow.Record, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a reason is required")
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != escrow.StateProposed && rec.State != escrow.StateAccepted {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "escrow %d can no longer be closed", id)
	}
	if !rec.IsParticipant(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "caller is not a participant in this escrow")
	}
	switch next {
	case escrow.StateRejected:
		if rec.IsInitiator(caller) {
			return nil, dErrors.New(dErrors.CodeForbidden, "initiator cannot reject their own proposal; cancel instead")
		}
	case escrow.StateCancelled:
		if !rec.IsInitiator(caller) && rec.State != escrow.StateProposed {
			return nil, dErrors.New(dErrors.CodeForbidden, "counterparty can only cancel an open proposal")
		}
	}

	refundTo := rec.Seller
	refund := rec.Funded
	wasFunded := rec.Funded
	rec.Funded = false
	if err := transition(rec, next); err != nil {
		rec.Funded = wasFunded
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist closure")
	}

	// Custody release happens after the terminal state is committed.
	if refund {
		if err := s.ledger.Withdraw(ctx, refundTo, rec.Asset, rec.AssetAmount); err != nil {
			return nil, wrapLedgerErr(err, "failed to return escrowed asset")
		}
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "proposal closed",
			"escrow_id", id, "state", next, "caller", caller, "reason", reason)
	}
	return rec, nil
}

func (s *Service) requireKYC(party domain.PartyID) error {
	if !s.gov.IsKYCApproved(party) {
		return dErrors.Newf(dErrors.CodeForbidden, "party %s has not cleared KYC", party)
	}
	return nil
}

func (s *Service) markFunded(ctx context.Context, rec *escrow.Record, actor domain.PartyID) {
	if s.metrics != nil {
		s.metrics.EscrowsFunded.Inc()
	}
	s.emit(ctx, events.Event{
		Type:        events.TypeEscrowFunded,
		EscrowID:    rec.ID,
		Actor:       actor,
		Buyer:       rec.Buyer,
		Seller:      rec.Seller,
		Asset:       rec.Asset,
		AssetAmount: rec.AssetAmount,
	})
}

func (s *Service) countFailure(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.OperationFailures.WithLabelValues(op, string(dErrors.CodeOf(err))).Inc()
}
