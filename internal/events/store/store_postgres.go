package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"escrowd/internal/events"
	"escrowd/pkg/domain"
	"escrowd/pkg/platform/tx"
)

// Postgres implements events.Store using the transactional outbox pattern.
// Events are written to the outbox table and shipped to Kafka by the outbox
// relay; Kafka is the feed of record for the reputation subscriber.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL event store that writes to the outbox.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects a database/sql handle suitable for the outbox store.
func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// outboxPayload is the JSON structure shipped to Kafka. Field names are the
// wire contract with the reputation consumer.
type outboxPayload struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	EscrowID    uint64 `json:"escrow_id"`
	DisputeID   uint64 `json:"dispute_id,omitempty"`
	Actor       string `json:"actor,omitempty"`
	Buyer       string `json:"buyer,omitempty"`
	Seller      string `json:"seller,omitempty"`
	Asset       string `json:"asset,omitempty"`
	AssetAmount int64  `json:"asset_amount,omitempty"`
	FiatAmount  int64  `json:"fiat_amount,omitempty"`
	Fee         int64  `json:"fee,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
    id UUID PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_unpublished_idx ON outbox (created_at) WHERE published_at IS NULL;
`

// EnsureSchema creates the outbox table when it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append writes a domain event to the outbox table for Kafka publishing.
func (s *Postgres) Append(ctx context.Context, event events.Event) error {
	payload := outboxPayload{
		ID:          uuid.NewString(),
		Type:        string(event.Type),
		Timestamp:   event.Timestamp.Format(time.RFC3339Nano),
		EscrowID:    uint64(event.EscrowID),
		DisputeID:   uint64(event.DisputeID),
		Actor:       event.Actor.String(),
		Buyer:       event.Buyer.String(),
		Seller:      event.Seller.String(),
		Asset:       event.Asset.String(),
		AssetAmount: event.AssetAmount,
		FiatAmount:  event.FiatAmount,
		Fee:         event.Fee,
		RequestID:   event.RequestID,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	// Join the caller's transaction when one is in flight so the outbox row
	// commits or rolls back together with the state change it describes.
	exec := s.db.ExecContext
	if t, ok := tx.From(ctx); ok {
		exec = t.ExecContext
	}
	_, err = exec(ctx, query,
		payload.ID,
		"escrow",
		event.EscrowID.String(),
		string(event.Type),
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListByEscrow reads back the outbox entries for one escrow, oldest first.
func (s *Postgres) ListByEscrow(ctx context.Context, id domain.EscrowID) ([]events.Event, error) {
	query := `
		SELECT payload FROM outbox
		WHERE aggregate_type = 'escrow' AND aggregate_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		var p outboxPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, p.Timestamp)
		out = append(out, events.Event{
			Type:        events.Type(p.Type),
			Timestamp:   ts,
			EscrowID:    domain.EscrowID(p.EscrowID),
			DisputeID:   domain.DisputeID(p.DisputeID),
			Actor:       domain.PartyID(p.Actor),
			Buyer:       domain.PartyID(p.Buyer),
			Seller:      domain.PartyID(p.Seller),
			Asset:       domain.AssetCode(p.Asset),
			AssetAmount: p.AssetAmount,
			FiatAmount:  p.FiatAmount,
			Fee:         p.Fee,
			RequestID:   p.RequestID,
		})
	}
	return out, rows.Err()
}
