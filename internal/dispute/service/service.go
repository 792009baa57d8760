// Package service implements arbitration over contested escrows: raising a
// case, collecting evidence from both sides, and applying the arbitrator's
// verdict through the escrow engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"escrowd/internal/dispute"
	"escrowd/internal/dispute/store"
	"escrowd/internal/escrow"
	"escrowd/internal/events"
	"escrowd/internal/params"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
	"escrowd/pkg/platform/sentinel"
)

// EscrowEngine is the slice of the escrow service this module drives.
type EscrowEngine interface {
	Get(ctx context.Context, id domain.EscrowID) (*escrow.Record, error)
	BeginDispute(ctx context.Context, caller domain.PartyID, id domain.EscrowID, disputeID domain.DisputeID) (*escrow.Record, error)
	SettleDispute(ctx context.Context, id domain.EscrowID, winner, arbitrator domain.PartyID, arbitrationFee int64) (*escrow.Record, error)
}

// Governance exposes the capability predicates arbitration depends on.
type Governance interface {
	IsGovernance(caller domain.PartyID) bool
	IsArbitrator(party domain.PartyID) bool
}

// EventPublisher emits domain events after transitions commit.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

type Service struct {
	mu sync.Mutex

	store   store.Store
	escrows EscrowEngine
	gov     Governance
	params  params.Store
	events  EventPublisher
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, engine EscrowEngine, gov Governance, p params.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("dispute store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("escrow engine is required")
	}
	if gov == nil {
		return nil, fmt.Errorf("governance is required")
	}
	if p == nil {
		return nil, fmt.Errorf("parameter store is required")
	}
	svc := &Service{
		store:   st,
		escrows: engine,
		gov:     gov,
		params:  p,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Get returns the dispute by id.
func (s *Service) Get(ctx context.Context, id domain.DisputeID) (*dispute.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "dispute %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load dispute")
	}
	return rec, nil
}

// GetByEscrow returns the most recent dispute attached to an escrow.
func (s *Service) GetByEscrow(ctx context.Context, escrowID domain.EscrowID) (*dispute.Record, error) {
	rec, err := s.store.GetByEscrow(ctx, escrowID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "no dispute for escrow %d", escrowID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load dispute")
	}
	return rec, nil
}

// Raise opens a dispute on a funded or refund-pending escrow. The initiator's
// statement is filed as their side's evidence immediately; the other side has
// the evidence window to respond.
func (s *Service) Raise(ctx context.Context, caller domain.PartyID, escrowID domain.EscrowID, statement string) (*dispute.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if statement == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "a statement of the dispute is required")
	}
	esc, err := s.escrows.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.State != escrow.StateFunded && esc.State != escrow.StateToRefundTimeout {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "escrow %d cannot be disputed in state %s", escrowID, esc.State)
	}
	if !esc.IsParticipant(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only a participant may raise a dispute")
	}
	if !esc.DisputeID.IsNil() {
		return nil, dErrors.Newf(dErrors.CodeConflict, "escrow %d is already under dispute", escrowID)
	}

	p, err := s.params.Get(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parameters")
	}
	now := s.now()
	rec := &dispute.Record{
		EscrowID:           escrowID,
		Initiator:          caller,
		CreatedAt:          now,
		EvidenceDeadline:   now.Add(p.EvidenceWindow),
		ResolutionDeadline: now.Add(p.ArbitratorWindow),
	}
	fileEvidence(rec, esc, caller, statement)

	id, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist dispute")
	}
	rec.ID = id

	if _, err := s.escrows.BeginDispute(ctx, caller, escrowID, id); err != nil {
		// The escrow holds its own lock and may have moved since the checks
		// above; drop the record so no orphan case survives the abort.
		if derr := s.store.Delete(ctx, id); derr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to remove dispute after escrow rejection",
				"dispute_id", id, "escrow_id", escrowID, "error", derr)
		}
		return nil, err
	}
	s.emit(ctx, events.Event{
		Type:      events.TypeDisputeRaised,
		EscrowID:  escrowID,
		DisputeID: id,
		Actor:     caller,
		Buyer:     esc.Buyer,
		Seller:    esc.Seller,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "dispute raised",
			"dispute_id", id, "escrow_id", escrowID, "initiator", caller)
	}
	return rec, nil
}

// SubmitEvidence files or replaces a party's evidence while the window is
// open. Either trade side may file, not just the initiator.
func (s *Service) SubmitEvidence(ctx context.Context, caller domain.PartyID, id domain.DisputeID, statement string) (*dispute.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if statement == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "evidence must not be empty")
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Resolved {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "dispute %d is already resolved", id)
	}
	if !rec.EvidenceOpen(s.now()) {
		return nil, dErrors.Newf(dErrors.CodeExpired, "evidence window closed at %s",
			rec.EvidenceDeadline.UTC().Format(time.RFC3339))
	}
	esc, err := s.escrows.Get(ctx, rec.EscrowID)
	if err != nil {
		return nil, err
	}
	if caller != esc.Buyer && caller != esc.Seller {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the trade parties may file evidence")
	}

	fileEvidence(rec, esc, caller, statement)
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist evidence")
	}
	return rec, nil
}

// AssignArbitrator attaches a whitelisted arbitrator to an open dispute.
// Only governance may assign, and only once.
func (s *Service) AssignArbitrator(ctx context.Context, caller domain.PartyID, id domain.DisputeID, arbitrator domain.PartyID) (*dispute.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.gov.IsGovernance(caller) {
		return nil, dErrors.New(dErrors.CodeForbidden, "caller is not governance")
	}
	if !s.gov.IsArbitrator(arbitrator) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "%s is not a whitelisted arbitrator", arbitrator)
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Resolved {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "dispute %d is already resolved", id)
	}
	if rec.Arbitrator != "" {
		return nil, dErrors.Newf(dErrors.CodeConflict, "dispute %d already has an arbitrator", id)
	}
	esc, err := s.escrows.Get(ctx, rec.EscrowID)
	if err != nil {
		return nil, err
	}
	if arbitrator == esc.Buyer || arbitrator == esc.Seller {
		return nil, dErrors.New(dErrors.CodeValidation, "arbitrator must not be a trade party")
	}

	rec.Arbitrator = arbitrator
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist assignment")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "arbitrator assigned", "dispute_id", id, "arbitrator", arbitrator)
	}
	return rec, nil
}

// Resolve applies the assigned arbitrator's verdict: the winner receives the
// escrowed amount less the arbitration fee, which pays the arbitrator.
func (s *Service) Resolve(ctx context.Context, caller domain.PartyID, id domain.DisputeID, winnerIsBuyer bool, notes string) (*dispute.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Resolved {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "dispute %d is already resolved", id)
	}
	if rec.Arbitrator == "" {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "dispute %d has no arbitrator assigned", id)
	}
	if caller != rec.Arbitrator {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the assigned arbitrator may resolve")
	}

	// The resolution deadline is advisory: disputed custody has exactly one
	// exit, so a late verdict must still be able to release it.
	esc, err := s.escrows.Get(ctx, rec.EscrowID)
	if err != nil {
		return nil, err
	}
	winner := esc.Seller
	if winnerIsBuyer {
		winner = esc.Buyer
	}
	p, err := s.params.Get(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parameters")
	}
	if _, err := s.escrows.SettleDispute(ctx, rec.EscrowID, winner, rec.Arbitrator, p.ArbitrationFee); err != nil {
		return nil, err
	}

	rec.Resolved = true
	rec.WinnerIsBuyer = winnerIsBuyer
	rec.Notes = notes
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist resolution")
	}
	s.emit(ctx, events.Event{
		Type:      events.TypeDisputeResolved,
		EscrowID:  rec.EscrowID,
		DisputeID: id,
		Actor:     caller,
		Buyer:     esc.Buyer,
		Seller:    esc.Seller,
		Fee:       p.ArbitrationFee,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "dispute resolved",
			"dispute_id", id, "escrow_id", rec.EscrowID, "winner", winner)
	}
	return rec, nil
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit event",
			"type", event.Type, "dispute_id", event.DisputeID, "error", err)
	}
}

// fileEvidence routes a statement to the filer's side of the case.
func fileEvidence(rec *dispute.Record, esc *escrow.Record, caller domain.PartyID, statement string) {
	if statement == "" {
		return
	}
	if caller == esc.Buyer {
		rec.BuyerEvidence = statement
	} else {
		rec.SellerEvidence = statement
	}
}
