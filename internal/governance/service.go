// Package governance holds the engine-facing surface of the external
// governance authority: whitelists, KYC flags, parameter updates, and the
// collectible fee balance. The escrow core only performs boolean and numeric
// lookups here; range validation of parameter writes is governance's job and
// happens before this service is called.
package governance

import (
	"context"
	"log/slog"
	"sync"

	"escrowd/internal/ledger"
	"escrowd/internal/params"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
)

type Service struct {
	mu sync.RWMutex

	governance  domain.PartyID
	kycRequired bool

	assets      map[domain.AssetCode]bool
	arbitrators map[domain.PartyID]bool
	kycApproved map[domain.PartyID]bool
	feeBalances map[domain.AssetCode]int64

	params params.Store
	ledger ledger.Ledger
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithKYCRequired gates proposal participation on per-party KYC approval.
func WithKYCRequired() Option {
	return func(s *Service) { s.kycRequired = true }
}

func New(governance domain.PartyID, paramStore params.Store, l ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		governance:  governance,
		assets:      make(map[domain.AssetCode]bool),
		arbitrators: make(map[domain.PartyID]bool),
		kycApproved: make(map[domain.PartyID]bool),
		feeBalances: make(map[domain.AssetCode]int64),
		params:      paramStore,
		ledger:      l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsGovernance is the capability predicate gating all mutations here.
func (s *Service) IsGovernance(caller domain.PartyID) bool {
	return caller == s.governance
}

// IsAssetSupported reports whether the asset is whitelisted for escrow.
func (s *Service) IsAssetSupported(asset domain.AssetCode) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assets[asset]
}

// IsArbitrator reports whether the party is pre-authorized to arbitrate.
func (s *Service) IsArbitrator(party domain.PartyID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arbitrators[party]
}

// IsKYCApproved reports whether the party may trade. Always true when the
// deployment does not require KYC.
func (s *Service) IsKYCApproved(party domain.PartyID) bool {
	if !s.kycRequired {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kycApproved[party]
}

// WhitelistAsset adds an asset to the tradable set.
func (s *Service) WhitelistAsset(caller domain.PartyID, asset domain.AssetCode) error {
	if !s.IsGovernance(caller) {
		return dErrors.New(dErrors.CodeForbidden, "caller is not governance")
	}
	if asset.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "asset code is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset] = true
	return nil
}

// DelistAsset removes an asset from the tradable set. Existing escrows on the
// asset continue through their lifecycle; only new proposals are blocked.
func (s *Service) DelistAsset(caller domain.PartyID, asset domain.AssetCode) error {
	if !s.IsGovernance(caller) {
		return dErrors.New(dErrors.CodeForbidden, "caller is not governance")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, asset)
	return nil
}

// WhitelistArbitrator authorizes a party for dispute assignment.
func (s *Service) WhitelistArbitrator(caller domain.PartyID, party domain.PartyID) error {
	if !s.IsGovernance(caller) {
		return dErrors.New(dErrors.CodeForbidden, "caller is not governance")
	}
	if party.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "arbitrator party is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbitrators[party] = true
	return nil
}

// SetKYC records a party's KYC flag.
func (s *Service) SetKYC(caller domain.PartyID, party domain.PartyID, approved bool) error {
	if !s.IsGovernance(caller) {
		return dErrors.New(dErrors.CodeForbidden, "caller is not governance")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if approved {
		s.kycApproved[party] = true
	} else {
		delete(s.kycApproved, party)
	}
	return nil
}

// UpdateParams replaces the parameter set in force.
func (s *Service) UpdateParams(ctx context.Context, caller domain.PartyID, p params.Params) error {
	if !s.IsGovernance(caller) {
		return dErrors.New(dErrors.CodeForbidden, "caller is not governance")
	}
	if err := s.params.Update(ctx, p); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update parameters")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "parameters updated", "caller", caller)
	}
	return nil
}

// AccrueFee credits a settlement fee to the collectible balance. Called by the
// escrow core at completion; the fee stays in engine custody until collected.
func (s *Service) AccrueFee(asset domain.AssetCode, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeBalances[asset] += amount
}

// FeeBalance reports the uncollected fee balance for an asset.
func (s *Service) FeeBalance(asset domain.AssetCode) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeBalances[asset]
}

// CollectFees withdraws the full accrued balance for an asset to the given
// recipient. The balance is zeroed before the custody release so a failed
// withdrawal can be retried without double counting.
func (s *Service) CollectFees(ctx context.Context, caller domain.PartyID, asset domain.AssetCode, to domain.PartyID) (int64, error) {
	if !s.IsGovernance(caller) {
		return 0, dErrors.New(dErrors.CodeForbidden, "caller is not governance")
	}

	s.mu.Lock()
	amount := s.feeBalances[asset]
	if amount == 0 {
		s.mu.Unlock()
		return 0, dErrors.New(dErrors.CodeValidation, "no fees accrued for asset")
	}
	s.feeBalances[asset] = 0
	s.mu.Unlock()

	if err := s.ledger.Withdraw(ctx, to, asset, amount); err != nil {
		s.mu.Lock()
		s.feeBalances[asset] += amount
		s.mu.Unlock()
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "fee withdrawal failed")
	}
	return amount, nil
}
