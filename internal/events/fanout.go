package events

import (
	"context"

	"escrowd/pkg/domain"
)

// Fanout appends to the primary store and offers each event to a channel for
// asynchronous sinks. The send never blocks the request path; if the channel
// is full the async copy is dropped while the primary write stands.
type Fanout struct {
	primary Store
	out     chan<- Event
}

func NewFanout(primary Store, out chan<- Event) *Fanout {
	return &Fanout{primary: primary, out: out}
}

func (f *Fanout) Append(ctx context.Context, event Event) error {
	if err := f.primary.Append(ctx, event); err != nil {
		return err
	}
	select {
	case f.out <- event:
	default:
	}
	return nil
}

func (f *Fanout) ListByEscrow(ctx context.Context, id domain.EscrowID) ([]Event, error) {
	return f.primary.ListByEscrow(ctx, id)
}
