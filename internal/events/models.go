// Package events defines the domain events the escrow engine emits for peer
// subsystems. The reputation subsystem consumes this feed; the engine never
// calls into subscribers.
package events

import (
	"time"

	"escrowd/pkg/domain"
)

// Type names a lifecycle event.
type Type string

const (
	TypeProposalCreated      Type = "proposal_created"
	TypeProposalAccepted     Type = "proposal_accepted"
	TypeEscrowFunded         Type = "escrow_funded"
	TypeTransactionCompleted Type = "transaction_completed"
	TypeRefundRequested      Type = "refund_requested"
	TypeRefundExecuted       Type = "refund_executed"
	TypeDisputeRaised        Type = "dispute_raised"
	TypeDisputeResolved      Type = "dispute_resolved"
)

// Event is emitted from domain logic after a state transition commits. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Type        Type
	Timestamp   time.Time
	EscrowID    domain.EscrowID
	DisputeID   domain.DisputeID
	Actor       domain.PartyID
	Buyer       domain.PartyID
	Seller      domain.PartyID
	Asset       domain.AssetCode
	AssetAmount int64
	FiatAmount  int64
	Fee         int64
	RequestID   string
}
