package events

import (
	"context"
	"log/slog"
)

// Worker drains an event channel into a store. It decouples emission on the
// request path from slower sinks; the engine's fail-closed transitions use the
// synchronous Publisher instead.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				if w.logger != nil {
					w.logger.ErrorContext(ctx, "failed to persist event",
						"type", event.Type, "escrow_id", event.EscrowID, "error", err)
				}
				return err
			}
		}
	}
}
