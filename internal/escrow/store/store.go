package store

import (
	"context"

	"escrowd/internal/escrow"
	"escrowd/pkg/domain"
)

// Store persists escrow records. Create assigns the next sequential id;
// records are never deleted, so every id below the current count resolves.
type Store interface {
	Create(ctx context.Context, rec *escrow.Record) (domain.EscrowID, error)
	Get(ctx context.Context, id domain.EscrowID) (*escrow.Record, error)
	Update(ctx context.Context, rec *escrow.Record) error
	ListByParty(ctx context.Context, party domain.PartyID) ([]*escrow.Record, error)
	Count(ctx context.Context) (uint64, error)
}
