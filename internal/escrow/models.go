// Package escrow defines the escrow lifecycle: the record, its nine states,
// and the legal transitions between them. Services own the authorization and
// custody rules; this package owns the shape of the state machine.
package escrow

import (
	"time"

	"escrowd/pkg/domain"
)

// State is the lifecycle state of an escrow record.
type State string

const (
	StateNone            State = ""
	StateProposed        State = "proposed"
	StateAccepted        State = "accepted"
	StateFunded          State = "funded"
	StateToRefundTimeout State = "to_refund_timeout"
	StateDisputed        State = "disputed"
	StateCompleted       State = "completed"
	StateCancelled       State = "cancelled"
	StateRejected        State = "rejected"
)

// transitions is the single source of truth for the lifecycle graph. Terminal
// states have no outgoing edges.
var transitions = map[State][]State{
	StateProposed:        {StateAccepted, StateFunded, StateRejected, StateCancelled},
	StateAccepted:        {StateFunded, StateRejected, StateCancelled},
	StateFunded:          {StateToRefundTimeout, StateDisputed, StateCompleted},
	StateToRefundTimeout: {StateDisputed, StateCancelled},
	StateDisputed:        {StateCompleted},
}

// CanTransition reports whether the lifecycle permits moving to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state is a permanent epitaph.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateRejected:
		return true
	}
	return false
}

// Record is the per-trade escrow. Created only by proposal creation, mutated
// only by the party holding the next legal transition, never deleted.
//
// Buyer and Seller are zero until roles are fixed: immediately for funded
// proposals (the depositor is the seller), otherwise at acceptance. Which
// acceptance variant runs determines which side becomes the seller.
type Record struct {
	ID           domain.EscrowID
	Initiator    domain.PartyID
	Counterparty domain.PartyID
	Buyer        domain.PartyID
	Seller       domain.PartyID

	Asset       domain.AssetCode
	AssetAmount int64

	FiatAmount   int64
	FiatCurrency domain.CurrencyCode

	Timeout   time.Duration
	CreatedAt time.Time
	FundedAt  time.Time
	ExpiresAt time.Time

	State  State
	Funded bool

	// RefundDeadline is set when the seller requests a refund; execution is
	// legal only once the deadline has passed.
	RefundDeadline time.Time

	// DisputeID references the active dispute while State is StateDisputed.
	DisputeID domain.DisputeID
}

// IsParticipant reports whether p is one of the two counterparties.
func (r *Record) IsParticipant(p domain.PartyID) bool {
	return p == r.Initiator || p == r.Counterparty
}

// IsInitiator reports whether p created the proposal.
func (r *Record) IsInitiator(p domain.PartyID) bool {
	return p == r.Initiator
}

// Other returns the counterparty of p. Callers must ensure p participates.
func (r *Record) Other(p domain.PartyID) domain.PartyID {
	if p == r.Initiator {
		return r.Counterparty
	}
	return r.Initiator
}

// Expired reports whether the proposal window has closed.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// AssignRoles fixes buyer and seller exactly once, at the transition that
// determines who deposits the asset. Centralized so the two acceptance
// variants cannot drift in how they resolve roles.
func (r *Record) AssignRoles(seller, buyer domain.PartyID) {
	r.Seller = seller
	r.Buyer = buyer
}
