package store

import (
	"context"
	"sync"

	"escrowd/internal/events"
	"escrowd/pkg/domain"
)

// Memory buffers events in process. Used by tests and single-node deployments
// without a Kafka feed.
type Memory struct {
	mu     sync.RWMutex
	events []events.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Append(_ context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Memory) ListByEscrow(_ context.Context, id domain.EscrowID) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []events.Event
	for _, e := range s.events {
		if e.EscrowID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every buffered event in emission order. Test helper.
func (s *Memory) All() []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}
