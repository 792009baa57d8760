// Package dispute holds the arbitration records attached to contested
// escrows: who raised the case, the evidence each side filed, and the
// arbitrator's eventual verdict.
package dispute

import (
	"time"

	"escrowd/pkg/domain"
)

// Record is one arbitration case. A record is created when a participant
// contests a funded escrow and is closed exactly once by the assigned
// arbitrator's verdict.
type Record struct {
	ID       domain.DisputeID
	EscrowID domain.EscrowID

	Initiator  domain.PartyID
	Arbitrator domain.PartyID

	CreatedAt          time.Time
	EvidenceDeadline   time.Time
	ResolutionDeadline time.Time

	BuyerEvidence  string
	SellerEvidence string

	Resolved      bool
	WinnerIsBuyer bool
	Notes         string
}

// EvidenceOpen reports whether parties may still file evidence.
func (r *Record) EvidenceOpen(now time.Time) bool {
	return now.Before(r.EvidenceDeadline)
}

// ResolutionOpen reports whether the resolution deadline is still ahead. The
// deadline does not block a verdict; it exists for monitoring and escalation.
func (r *Record) ResolutionOpen(now time.Time) bool {
	return now.Before(r.ResolutionDeadline)
}
