// Package service implements the escrow lifecycle engine: proposal
// registration, funding coordination, settlement, and the refund path. Every
// public entry point is serialized behind a non-reentrant lock and commits
// all-or-nothing: either the full set of checks, custody movement, and state
// writes succeed together, or the record is left untouched.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"escrowd/internal/escrow"
	"escrowd/internal/escrow/store"
	"escrowd/internal/events"
	"escrowd/internal/ledger"
	"escrowd/internal/params"
	"escrowd/internal/platform/metrics"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
	"escrowd/pkg/platform/sentinel"
)

// Governance is the read-only surface the engine consults on the governance
// collaborator, plus the fee accrual hook.
type Governance interface {
	IsAssetSupported(asset domain.AssetCode) bool
	IsKYCApproved(party domain.PartyID) bool
	AccrueFee(asset domain.AssetCode, amount int64)
}

// VolumeLimiter charges fiat notional against a party's daily cap. Release
// undoes a reservation when the charging operation aborts.
type VolumeLimiter interface {
	Reserve(ctx context.Context, user domain.PartyID, amount, limit int64, now time.Time) error
	Release(ctx context.Context, user domain.PartyID, amount int64, now time.Time) error
}

// EventPublisher emits domain events after transitions commit.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

type Service struct {
	// mu is the non-reentrant guard serializing every state-mutating entry
	// point, mirroring consensus-serialized execution. Custody movements
	// happen while it is held, so a recipient cannot re-enter mid-transfer.
	mu nonReentrantLock

	store   store.Store
	ledger  ledger.Ledger
	params  params.Store
	volume  VolumeLimiter
	gov     Governance
	events  EventPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides the canonical clock. Tests use this to cross timeout
// boundaries deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, l ledger.Ledger, p params.Store, vol VolumeLimiter, gov Governance, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("escrow store is required")
	}
	if l == nil {
		return nil, fmt.Errorf("asset ledger is required")
	}
	if p == nil {
		return nil, fmt.Errorf("parameter store is required")
	}
	if vol == nil {
		return nil, fmt.Errorf("volume limiter is required")
	}
	if gov == nil {
		return nil, fmt.Errorf("governance is required")
	}

	svc := &Service{
		store:  st,
		ledger: l,
		params: p,
		volume: vol,
		gov:    gov,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Get returns the escrow record by id.
func (s *Service) Get(ctx context.Context, id domain.EscrowID) (*escrow.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "escrow %d not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load escrow")
	}
	return rec, nil
}

// ListByParty returns every escrow the party participates in.
func (s *Service) ListByParty(ctx context.Context, party domain.PartyID) ([]*escrow.Record, error) {
	recs, err := s.store.ListByParty(ctx, party)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list escrows")
	}
	return recs, nil
}

// transition enforces the lifecycle graph before any mutation is applied.
func transition(rec *escrow.Record, next escrow.State) error {
	if !rec.State.CanTransition(next) {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"escrow %d cannot move from %s to %s", rec.ID, rec.State, next)
	}
	rec.State = next
	return nil
}

// emit publishes an event when a publisher is wired; emission failures are
// logged but do not unwind the committed transition.
func (s *Service) emit(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit event",
			"type", event.Type, "escrow_id", event.EscrowID, "error", err)
	}
}

// releaseVolume hands a daily-cap reservation back on an abort path. A failed
// release is logged, not surfaced: the caller is already unwinding an error.
func (s *Service) releaseVolume(ctx context.Context, user domain.PartyID, amount int64, now time.Time) {
	if err := s.volume.Release(ctx, user, amount, now); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to release reserved volume",
			"party", user, "amount", amount, "error", err)
	}
}

// wrapLedgerErr maps ledger failure sentinels onto the domain taxonomy.
func wrapLedgerErr(err error, op string) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrInsufficientAllowance) {
		return dErrors.Wrap(err, dErrors.CodeInsufficientFunds, op)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, op)
}
