package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowd/internal/dispute"
	"escrowd/pkg/domain"
	"escrowd/pkg/platform/sentinel"
)

const disputeSchema = `
CREATE TABLE IF NOT EXISTS disputes (
	id                  BIGSERIAL PRIMARY KEY,
	escrow_id           BIGINT NOT NULL,
	initiator           TEXT NOT NULL,
	arbitrator          TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	evidence_deadline   TIMESTAMPTZ NOT NULL,
	resolution_deadline TIMESTAMPTZ NOT NULL,
	buyer_evidence      TEXT NOT NULL DEFAULT '',
	seller_evidence     TEXT NOT NULL DEFAULT '',
	resolved            BOOLEAN NOT NULL DEFAULT FALSE,
	winner_is_buyer     BOOLEAN NOT NULL DEFAULT FALSE,
	notes               TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_disputes_escrow ON disputes (escrow_id);
`

// Postgres persists dispute records in a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the disputes table when migrations have not run.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, disputeSchema); err != nil {
		return fmt.Errorf("failed to ensure dispute schema: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, rec *dispute.Record) (domain.DisputeID, error) {
	var id uint64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO disputes (
			escrow_id, initiator, arbitrator, created_at,
			evidence_deadline, resolution_deadline,
			buyer_evidence, seller_evidence, resolved, winner_is_buyer, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`,
		rec.EscrowID, rec.Initiator, rec.Arbitrator, rec.CreatedAt,
		rec.EvidenceDeadline, rec.ResolutionDeadline,
		rec.BuyerEvidence, rec.SellerEvidence, rec.Resolved, rec.WinnerIsBuyer, rec.Notes,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert dispute: %w", err)
	}
	return domain.DisputeID(id), nil
}

func (p *Postgres) Get(ctx context.Context, id domain.DisputeID) (*dispute.Record, error) {
	return p.scanOne(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
}

func (p *Postgres) GetByEscrow(ctx context.Context, escrowID domain.EscrowID) (*dispute.Record, error) {
	return p.scanOne(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE escrow_id = $1 ORDER BY id DESC LIMIT 1`, escrowID)
}

func (p *Postgres) Update(ctx context.Context, rec *dispute.Record) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE disputes SET
			arbitrator = $2, buyer_evidence = $3, seller_evidence = $4,
			resolved = $5, winner_is_buyer = $6, notes = $7
		WHERE id = $1`,
		rec.ID, rec.Arbitrator, rec.BuyerEvidence, rec.SellerEvidence,
		rec.Resolved, rec.WinnerIsBuyer, rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to update dispute %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id domain.DisputeID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM disputes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dispute %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const disputeColumns = `id, escrow_id, initiator, arbitrator, created_at,
	evidence_deadline, resolution_deadline, buyer_evidence, seller_evidence,
	resolved, winner_is_buyer, notes`

func (p *Postgres) scanOne(ctx context.Context, query string, arg any) (*dispute.Record, error) {
	var rec dispute.Record
	err := p.pool.QueryRow(ctx, query, arg).Scan(
		&rec.ID, &rec.EscrowID, &rec.Initiator, &rec.Arbitrator, &rec.CreatedAt,
		&rec.EvidenceDeadline, &rec.ResolutionDeadline,
		&rec.BuyerEvidence, &rec.SellerEvidence,
		&rec.Resolved, &rec.WinnerIsBuyer, &rec.Notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load dispute: %w", err)
	}
	return &rec, nil
}
