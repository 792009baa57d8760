package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"escrowd/internal/escrow"
	escrowstore "escrowd/internal/escrow/store"
	"escrowd/internal/escrow/service"
	"escrowd/internal/events"
	eventstore "escrowd/internal/events/store"
	"escrowd/internal/governance"
	"escrowd/internal/ledger"
	"escrowd/internal/params"
	"escrowd/internal/volume"
	volumestore "escrowd/internal/volume/store"
	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
)

const (
	alice = domain.PartyID("alice")
	bob   = domain.PartyID("bob")
	carol = domain.PartyID("carol")
	arb   = domain.PartyID("arbitrator-1")
	gov   = domain.PartyID("governance")

	token = domain.AssetCode("TOKEN")
	usd   = domain.CurrencyCode("USD")
)

type ServiceSuite struct {
	suite.Suite

	ctx     context.Context
	clock   time.Time
	ledger  *ledger.Memory
	store   *escrowstore.Memory
	params  *params.MemoryStore
	gov     *governance.Service
	events  *eventstore.Memory
	svc     *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ledger = ledger.NewMemory()
	s.store = escrowstore.NewMemory()
	s.params = params.NewMemoryStore()
	s.gov = governance.New(gov, s.params, s.ledger)
	s.events = eventstore.NewMemory()

	s.Require().NoError(s.gov.WhitelistAsset(gov, token))

	vol, err := volume.New(volumestore.NewMemory())
	s.Require().NoError(err)

	s.svc, err = service.New(s.store, s.ledger, s.params, vol, s.gov,
		service.WithEventPublisher(events.NewPublisher(s.events)),
		service.WithClock(func() time.Time { return s.clock }),
	)
	s.Require().NoError(err)

	// Everyone starts with spendable balance and a blanket allowance.
	for _, p := range []domain.PartyID{alice, bob, carol} {
		s.ledger.Mint(p, token, 10_000)
		s.ledger.Approve(p, token, 10_000)
	}
}

func (s *ServiceSuite) advance(d time.Duration) {
	s.clock = s.clock.Add(d)
}

func (s *ServiceSuite) request() service.CreateRequest {
	return service.CreateRequest{
		Counterparty: bob,
		Asset:        token,
		AssetAmount:  1000,
		FiatAmount:   1000,
		FiatCurrency: usd,
		Timeout:      24 * time.Hour,
	}
}

func (s *ServiceSuite) assertCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err))
}

// Seller-initiated happy path: alice proposes with funding, bob accepts,
// alice confirms the fiat payment. With the default 1% fee the buyer
// receives 990 and governance accrues 10.
func (s *ServiceSuite) TestSellerInitiatedCompletion() {
	rec, err := s.svc.CreateProposalWithFunding(s.ctx, alice, s.request())
	s.Require().NoError(err)
	s.Equal(domain.EscrowID(1), rec.ID)
	s.Equal(escrow.StateProposed, rec.State)
	s.True(rec.Funded)
	s.Equal(alice, rec.Seller)
	s.Equal(bob, rec.Buyer)
	s.Equal(int64(9_000), s.ledger.Balance(alice, token))
	s.Equal(int64(1_000), s.ledger.Custody(token))

	rec, err = s.svc.AcceptProposal(s.ctx, bob, rec.ID)
	s.Require().NoError(err)
	s.Equal(escrow.StateFunded, rec.State)

	rec, err = s.svc.CompleteTransaction(s.ctx, alice, rec.ID)
	s.Require().NoError(err)
	s.Equal(escrow.StateCompleted, rec.State)
	s.False(rec.Funded)

	s.Equal(int64(10_990), s.ledger.Balance(bob, token))
	s.Equal(int64(9_000), s.ledger.Balance(alice, token))
	s.Equal(int64(10), s.ledger.Custody(token))
	s.Equal(int64(10), s.gov.FeeBalance(token))

	types := eventTypes(s.events.All())
	s.Equal([]events.Type{
		events.TypeProposalCreated,
		events.TypeProposalAccepted,
		events.TypeEscrowFunded,
		events.TypeTransactionCompleted,
	}, types)
}

// Buyer-initiated path: alice proposes unfunded, bob accepts with funding
// and thereby becomes the seller.
func (s *ServiceSuite) TestBuyerInitiatedAcceptWithFunding() {
	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)
	s.False(rec.Funded)
	s.Empty(rec.Seller)

	rec, err = s.svc.AcceptProposalWithFunding(s.ctx, bob, rec.ID)
	s.Require().NoError(err)
	s.Equal(escrow.StateFunded, rec.State)
	s.Equal(bob, rec.Seller)
	s.Equal(alice, rec.Buyer)
	s.Equal(int64(9_000), s.ledger.Balance(bob, token))

	rec, err = s.svc.CompleteTransaction(s.ctx, bob, rec.ID)
	s.Require().NoError(err)
	s.Equal(int64(10_990), s.ledger.Balance(alice, token))
}

// Deferred funding path: accept first, seller funds explicitly afterwards.
func (s *ServiceSuite) TestDeferredFunding() {
	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)

	rec, err = s.svc.AcceptProposal(s.ctx, bob, rec.ID)
	s.Require().NoError(err)
	s.Equal(escrow.StateAccepted, rec.State)
	s.Equal(alice, rec.Seller)
	s.False(rec.Funded)

	_, err = s.svc.FundEscrow(s.ctx, bob, rec.ID)
	s.assertCode(err, dErrors.CodeForbidden)

	rec, err = s.svc.FundEscrow(s.ctx, alice, rec.ID)
	s.Require().NoError(err)
	s.Equal(escrow.StateFunded, rec.State)
	s.True(rec.Funded)
	s.False(rec.FundedAt.IsZero())
}

func (s *ServiceSuite) TestAcceptWithFundingRejectsPreFunded() {
	rec, err := s.svc.CreateProposalWithFunding(s.ctx, alice, s.request())
	s.Require().NoError(err)

	_, err = s.svc.AcceptProposalWithFunding(s.ctx, bob, rec.ID)
	s.assertCode(err, dErrors.CodeConflict)
}

func (s *ServiceSuite) TestInitiatorCannotAcceptOwnProposal() {
	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)

	_, err = s.svc.AcceptProposal(s.ctx, alice, rec.ID)
	s.assertCode(err, dErrors.CodeForbidden)

	_, err = s.svc.AcceptProposal(s.ctx, carol, rec.ID)
	s.assertCode(err, dErrors.CodeForbidden)
}

func (s *ServiceSuite) TestAcceptAfterExpiry() {
	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)

	s.advance(24*time.Hour + time.Second)
	_, err = s.svc.AcceptProposal(s.ctx, bob, rec.ID)
	s.assertCode(err, dErrors.CodeExpired)
}

func (s *ServiceSuite) TestFundAfterExpiry() {
	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)
	_, err = s.svc.AcceptProposal(s.ctx, bob, rec.ID)
	s.Require().NoError(err)

	s.advance(25 * time.Hour)
	_, err = s.svc.FundEscrow(s.ctx, alice, rec.ID)
	s.assertCode(err, dErrors.CodeExpired)
}

func (s *ServiceSuite) TestRejectFundedProposalRefundsDepositor() {
	rec, err := s.svc.CreateProposalWithFunding(s.ctx, alice, s.request())
	s.Require().NoError(err)
	s.Equal(int64(9_000), s.ledger.Balance(alice, token))

	rec, err = s.svc.RejectProposal(s.ctx, bob, rec.ID, "terms unacceptable")
	s.Require().NoError(err)
	s.Equal(escrow.StateRejected, rec.State)
	s.False(rec.Funded)
	s.Equal(int64(10_000), s.ledger.Balance(alice, token))
	s.Equal(int64(0), s.ledger.Custody(token))
}

func (s *ServiceSuite) TestCancelRules() {
	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)

	// The counterparty may cancel an open proposal.
	_, err = s.svc.CancelProposal(s.ctx, bob, rec.ID, "changed my mind")
	s.Require().NoError(err)

	rec, err = s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)
	_, err = s.svc.AcceptProposal(s.ctx, bob, rec.ID)
	s.Require().NoError(err)

	// Once accepted, only the initiator may cancel.
	_, err = s.svc.CancelProposal(s.ctx, bob, rec.ID, "changed my mind")
	s.assertCode(err, dErrors.CodeForbidden)
	got, err := s.svc.CancelProposal(s.ctx, alice, rec.ID, "deal fell through")
	s.Require().NoError(err)
	s.Equal(escrow.StateCancelled, got.State)
}

func (s *ServiceSuite) TestCloseRequiresReason() {
	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)

	_, err = s.svc.CancelProposal(s.ctx, alice, rec.ID, "")
	s.assertCode(err, dErrors.CodeValidation)
	_, err = s.svc.RejectProposal(s.ctx, bob, rec.ID, "")
	s.assertCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestCompletionIsNotRepeatable() {
	rec := s.fundedEscrow()
	_, err := s.svc.CompleteTransaction(s.ctx, alice, rec.ID)
	s.Require().NoError(err)

	_, err = s.svc.CompleteTransaction(s.ctx, alice, rec.ID)
	s.assertCode(err, dErrors.CodeInvalidState)

	// One payout, one fee accrual.
	s.Equal(int64(10_990), s.ledger.Balance(bob, token))
	s.Equal(int64(10), s.gov.FeeBalance(token))
}

func (s *ServiceSuite) TestOnlySellerCompletes() {
	rec := s.fundedEscrow()
	_, err := s.svc.CompleteTransaction(s.ctx, bob, rec.ID)
	s.assertCode(err, dErrors.CodeForbidden)
}

// Refund path: request opens the contest window, execution is rejected until
// it elapses and then returns the full amount with no fee taken.
func (s *ServiceSuite) TestRefundTiming() {
	rec := s.fundedEscrow()

	rec, err := s.svc.RequestRefund(s.ctx, alice, rec.ID)
	s.Require().NoError(err)
	s.Equal(escrow.StateToRefundTimeout, rec.State)
	s.Equal(s.clock.Add(72*time.Hour), rec.RefundDeadline)

	_, err = s.svc.ExecuteRefund(s.ctx, alice, rec.ID)
	s.assertCode(err, dErrors.CodeExpired)

	s.advance(72 * time.Hour)
	rec, err = s.svc.ExecuteRefund(s.ctx, alice, rec.ID)
	s.Require().NoError(err)
	s.Equal(escrow.StateCancelled, rec.State)
	s.Equal(int64(10_000), s.ledger.Balance(alice, token))
	s.Equal(int64(0), s.gov.FeeBalance(token))
}

func (s *ServiceSuite) TestRefundIsSellerOnly() {
	rec := s.fundedEscrow()
	_, err := s.svc.RequestRefund(s.ctx, bob, rec.ID)
	s.assertCode(err, dErrors.CodeForbidden)

	_, err = s.svc.RequestRefund(s.ctx, alice, rec.ID)
	s.Require().NoError(err)
	s.advance(73 * time.Hour)
	_, err = s.svc.ExecuteRefund(s.ctx, bob, rec.ID)
	s.assertCode(err, dErrors.CodeForbidden)
}

// A dispute raised during the contest window voids the pending refund.
func (s *ServiceSuite) TestDisputeOverridesRefund() {
	rec := s.fundedEscrow()
	_, err := s.svc.RequestRefund(s.ctx, alice, rec.ID)
	s.Require().NoError(err)

	rec, err = s.svc.BeginDispute(s.ctx, bob, rec.ID, domain.DisputeID(7))
	s.Require().NoError(err)
	s.Equal(escrow.StateDisputed, rec.State)
	s.True(rec.RefundDeadline.IsZero())

	s.advance(100 * time.Hour)
	_, err = s.svc.ExecuteRefund(s.ctx, alice, rec.ID)
	s.assertCode(err, dErrors.CodeInvalidState)
}

func (s *ServiceSuite) TestSettleDisputeSplitsCustody() {
	rec := s.fundedEscrow()
	_, err := s.svc.BeginDispute(s.ctx, bob, rec.ID, domain.DisputeID(1))
	s.Require().NoError(err)

	rec, err = s.svc.SettleDispute(s.ctx, rec.ID, bob, arb, 50)
	s.Require().NoError(err)
	s.Equal(escrow.StateCompleted, rec.State)
	s.Equal(int64(10_950), s.ledger.Balance(bob, token))
	s.Equal(int64(50), s.ledger.Balance(arb, token))
	s.Equal(int64(0), s.ledger.Custody(token))
}

func (s *ServiceSuite) TestSettleDisputeFeeMustFit() {
	rec := s.fundedEscrow()
	_, err := s.svc.BeginDispute(s.ctx, alice, rec.ID, domain.DisputeID(1))
	s.Require().NoError(err)

	_, err = s.svc.SettleDispute(s.ctx, rec.ID, bob, arb, rec.AssetAmount)
	s.assertCode(err, dErrors.CodeInsufficientFunds)
}

func (s *ServiceSuite) TestDisputeRequiresCustody() {
	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)
	_, err = s.svc.BeginDispute(s.ctx, bob, rec.ID, domain.DisputeID(1))
	s.assertCode(err, dErrors.CodeInvalidState)
}

func (s *ServiceSuite) TestValidationFailures() {
	base := s.request()

	bad := base
	bad.Counterparty = alice
	_, err := s.svc.CreateProposal(s.ctx, alice, bad)
	s.assertCode(err, dErrors.CodeValidation)

	bad = base
	bad.AssetAmount = 0
	_, err = s.svc.CreateProposal(s.ctx, alice, bad)
	s.assertCode(err, dErrors.CodeValidation)

	bad = base
	bad.Timeout = time.Minute
	_, err = s.svc.CreateProposal(s.ctx, alice, bad)
	s.assertCode(err, dErrors.CodeValidation)

	bad = base
	bad.Asset = domain.AssetCode("UNLISTED")
	_, err = s.svc.CreateProposal(s.ctx, alice, bad)
	s.assertCode(err, dErrors.CodeValidation)

	bad = base
	bad.FiatAmount = 200_000_000
	_, err = s.svc.CreateProposal(s.ctx, alice, bad)
	s.assertCode(err, dErrors.CodeValidation)
}

// Creation charges the initiator's daily cap and acceptance charges the
// acceptor's, so each party burns allowance for their own side of the trade.
func (s *ServiceSuite) TestDailyVolumeCharges() {
	p, err := s.params.Get(s.ctx)
	s.Require().NoError(err)
	p.DailyVolumeCap = 1_500
	s.Require().NoError(s.params.Update(s.ctx, p))

	req := s.request()
	rec, err := s.svc.CreateProposal(s.ctx, alice, req)
	s.Require().NoError(err)

	// Alice has 500 of headroom left; another 1000 proposal must fail.
	_, err = s.svc.CreateProposal(s.ctx, alice, req)
	s.assertCode(err, dErrors.CodeInsufficientFunds)

	// Bob's cap is untouched until he accepts.
	_, err = s.svc.AcceptProposal(s.ctx, bob, rec.ID)
	s.Require().NoError(err)
	req2 := s.request()
	req2.Counterparty = carol
	_, err = s.svc.CreateProposal(s.ctx, bob, req2)
	s.assertCode(err, dErrors.CodeInsufficientFunds)

	// The next UTC day resets both.
	s.advance(24 * time.Hour)
	_, err = s.svc.CreateProposal(s.ctx, bob, req2)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestInsufficientBalanceOnFunding() {
	req := s.request()
	req.AssetAmount = 50_000
	req.FiatAmount = 50_000
	_, err := s.svc.CreateProposalWithFunding(s.ctx, alice, req)
	s.assertCode(err, dErrors.CodeInsufficientFunds)
	s.Equal(int64(10_000), s.ledger.Balance(alice, token))
}

// A funded create that aborts on the deposit must hand its cap reservation
// back, so the retry after topping up is not rejected for volume.
func (s *ServiceSuite) TestAbortedFundingReleasesVolume() {
	p, err := s.params.Get(s.ctx)
	s.Require().NoError(err)
	p.DailyVolumeCap = 1_000
	s.Require().NoError(s.params.Update(s.ctx, p))

	dave := domain.PartyID("dave")
	req := s.request()
	req.AssetAmount = 600
	req.FiatAmount = 600

	_, err = s.svc.CreateProposalWithFunding(s.ctx, dave, req)
	s.assertCode(err, dErrors.CodeInsufficientFunds)

	s.ledger.Mint(dave, token, 600)
	s.ledger.Approve(dave, token, 600)
	rec, err := s.svc.CreateProposalWithFunding(s.ctx, dave, req)
	s.Require().NoError(err)
	s.True(rec.Funded)
}

// Same rule on the accepting side: a failed funding acceptance leaves the
// acceptor's daily allowance untouched.
func (s *ServiceSuite) TestAbortedAcceptanceReleasesVolume() {
	p, err := s.params.Get(s.ctx)
	s.Require().NoError(err)
	p.DailyVolumeCap = 1_000
	s.Require().NoError(s.params.Update(s.ctx, p))

	dave := domain.PartyID("dave")
	req := s.request()
	req.Counterparty = dave
	req.AssetAmount = 600
	req.FiatAmount = 600
	rec, err := s.svc.CreateProposal(s.ctx, alice, req)
	s.Require().NoError(err)

	_, err = s.svc.AcceptProposalWithFunding(s.ctx, dave, rec.ID)
	s.assertCode(err, dErrors.CodeInsufficientFunds)

	s.ledger.Mint(dave, token, 600)
	s.ledger.Approve(dave, token, 600)
	got, err := s.svc.AcceptProposalWithFunding(s.ctx, dave, rec.ID)
	s.Require().NoError(err)
	s.Equal(escrow.StateFunded, got.State)
}

func (s *ServiceSuite) TestGetAndList() {
	_, err := s.svc.Get(s.ctx, domain.EscrowID(99))
	s.assertCode(err, dErrors.CodeNotFound)

	rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
	s.Require().NoError(err)

	got, err := s.svc.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.ID, got.ID)

	mine, err := s.svc.ListByParty(s.ctx, bob)
	s.Require().NoError(err)
	s.Len(mine, 1)
	none, err := s.svc.ListByParty(s.ctx, carol)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *ServiceSuite) TestIDsAreSequential() {
	for i := 1; i <= 3; i++ {
		rec, err := s.svc.CreateProposal(s.ctx, alice, s.request())
		s.Require().NoError(err)
		s.Equal(domain.EscrowID(i), rec.ID)
	}
}

// fundedEscrow drives a fresh escrow to the funded state with alice as
// seller and bob as buyer.
func (s *ServiceSuite) fundedEscrow() *escrow.Record {
	rec, err := s.svc.CreateProposalWithFunding(s.ctx, alice, s.request())
	s.Require().NoError(err)
	rec, err = s.svc.AcceptProposal(s.ctx, bob, rec.ID)
	s.Require().NoError(err)
	s.Require().Equal(escrow.StateFunded, rec.State)
	return rec
}

func eventTypes(evts []events.Event) []events.Type {
	out := make([]events.Type, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}
