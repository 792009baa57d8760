package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowd/internal/escrow"
	"escrowd/pkg/domain"
	"escrowd/pkg/platform/sentinel"
)

// Postgres persists escrow records in a single table keyed by a BIGSERIAL id,
// preserving the arena property: ids are monotonic and rows are never deleted.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const escrowSchema = `
CREATE TABLE IF NOT EXISTS escrows (
    id BIGSERIAL PRIMARY KEY,
    initiator TEXT NOT NULL,
    counterparty TEXT NOT NULL,
    buyer TEXT NOT NULL DEFAULT '',
    seller TEXT NOT NULL DEFAULT '',
    asset TEXT NOT NULL,
    asset_amount BIGINT NOT NULL,
    fiat_amount BIGINT NOT NULL,
    fiat_currency TEXT NOT NULL,
    timeout_ns BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    funded_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ NOT NULL,
    state TEXT NOT NULL,
    funded BOOLEAN NOT NULL DEFAULT FALSE,
    refund_deadline TIMESTAMPTZ,
    dispute_id BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS escrows_initiator_idx ON escrows (initiator);
CREATE INDEX IF NOT EXISTS escrows_counterparty_idx ON escrows (counterparty);
`

// EnsureSchema creates the escrows table when it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, escrowSchema)
	return err
}

func (s *Postgres) Create(ctx context.Context, rec *escrow.Record) (domain.EscrowID, error) {
	query := `
		INSERT INTO escrows (
			initiator, counterparty, buyer, seller, asset, asset_amount,
			fiat_amount, fiat_currency, timeout_ns, created_at, funded_at,
			expires_at, state, funded, refund_deadline, dispute_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id
	`
	var id uint64
	err := s.pool.QueryRow(ctx, query,
		rec.Initiator, rec.Counterparty, rec.Buyer, rec.Seller,
		rec.Asset, rec.AssetAmount, rec.FiatAmount, rec.FiatCurrency,
		rec.Timeout.Nanoseconds(), rec.CreatedAt, nullTime(rec.FundedAt),
		rec.ExpiresAt, string(rec.State), rec.Funded,
		nullTime(rec.RefundDeadline), uint64(rec.DisputeID),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert escrow: %w", err)
	}
	rec.ID = domain.EscrowID(id)
	return rec.ID, nil
}

func (s *Postgres) Get(ctx context.Context, id domain.EscrowID) (*escrow.Record, error) {
	query := `
		SELECT id, initiator, counterparty, buyer, seller, asset, asset_amount,
		       fiat_amount, fiat_currency, timeout_ns, created_at, funded_at,
		       expires_at, state, funded, refund_deadline, dispute_id
		FROM escrows WHERE id = $1
	`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, uint64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get escrow %d: %w", id, err)
	}
	return rec, nil
}

func (s *Postgres) Update(ctx context.Context, rec *escrow.Record) error {
	query := `
		UPDATE escrows SET
			buyer = $2, seller = $3, state = $4, funded = $5,
			funded_at = $6, refund_deadline = $7, dispute_id = $8
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		uint64(rec.ID), rec.Buyer, rec.Seller, string(rec.State), rec.Funded,
		nullTime(rec.FundedAt), nullTime(rec.RefundDeadline), uint64(rec.DisputeID),
	)
	if err != nil {
		return fmt.Errorf("update escrow %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListByParty(ctx context.Context, party domain.PartyID) ([]*escrow.Record, error) {
	query := `
		SELECT id, initiator, counterparty, buyer, seller, asset, asset_amount,
		       fiat_amount, fiat_currency, timeout_ns, created_at, funded_at,
		       expires_at, state, funded, refund_deadline, dispute_id
		FROM escrows
		WHERE initiator = $1 OR counterparty = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, party)
	if err != nil {
		return nil, fmt.Errorf("list escrows for %s: %w", party, err)
	}
	defer rows.Close()

	var out []*escrow.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) Count(ctx context.Context) (uint64, error) {
	var count uint64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM escrows`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count escrows: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*escrow.Record, error) {
	var (
		rec       escrow.Record
		id        uint64
		timeoutNs int64
		fundedAt  *time.Time
		refundAt  *time.Time
		state     string
		disputeID uint64
	)
	err := row.Scan(&id, &rec.Initiator, &rec.Counterparty, &rec.Buyer, &rec.Seller,
		&rec.Asset, &rec.AssetAmount, &rec.FiatAmount, &rec.FiatCurrency,
		&timeoutNs, &rec.CreatedAt, &fundedAt, &rec.ExpiresAt, &state,
		&rec.Funded, &refundAt, &disputeID)
	if err != nil {
		return nil, err
	}
	rec.ID = domain.EscrowID(id)
	rec.Timeout = time.Duration(timeoutNs)
	if fundedAt != nil {
		rec.FundedAt = *fundedAt
	}
	if refundAt != nil {
		rec.RefundDeadline = *refundAt
	}
	rec.State = escrow.State(state)
	rec.DisputeID = domain.DisputeID(disputeID)
	return &rec, nil
}

// nullTime maps the zero time to NULL so optional timestamps round-trip.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
