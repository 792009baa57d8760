package events

import (
	"context"
	"time"

	"escrowd/pkg/domain"
)

// Store persists the event feed. Sinks range from an in-process buffer to the
// transactional outbox that feeds Kafka.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEscrow(ctx context.Context, id domain.EscrowID) ([]Event, error)
}

// Publisher captures domain events. It is append-only and uses the store layer
// for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, id domain.EscrowID) ([]Event, error) {
	return p.store.ListByEscrow(ctx, id)
}
