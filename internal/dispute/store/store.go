package store

import (
	"context"

	"escrowd/internal/dispute"
	"escrowd/pkg/domain"
)

// Store persists dispute records. Create assigns the next sequential id.
// Delete exists solely to compensate a create whose surrounding operation
// aborted; committed disputes are never removed.
type Store interface {
	Create(ctx context.Context, rec *dispute.Record) (domain.DisputeID, error)
	Get(ctx context.Context, id domain.DisputeID) (*dispute.Record, error)
	Update(ctx context.Context, rec *dispute.Record) error
	Delete(ctx context.Context, id domain.DisputeID) error
	GetByEscrow(ctx context.Context, escrowID domain.EscrowID) (*dispute.Record, error)
}
