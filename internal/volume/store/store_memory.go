package store

import (
	"context"
	"sync"

	"escrowd/pkg/domain"
	"escrowd/pkg/platform/sentinel"
)

type usageKey struct {
	user domain.PartyID
	day  string
}

// Memory is the in-process volume counter store. Counters for past days are
// never read again; they are left to be garbage collected with the process.
type Memory struct {
	mu     sync.Mutex
	totals map[usageKey]int64
}

func NewMemory() *Memory {
	return &Memory{totals: make(map[usageKey]int64)}
}

func (s *Memory) Accrue(_ context.Context, user domain.PartyID, day string, amount, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{user, day}
	next := s.totals[key] + amount
	if limit > 0 && next > limit {
		return s.totals[key], sentinel.ErrCapExceeded
	}
	s.totals[key] = next
	return next, nil
}

func (s *Memory) Release(_ context.Context, user domain.PartyID, day string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{user, day}
	next := s.totals[key] - amount
	if next < 0 {
		next = 0
	}
	s.totals[key] = next
	return nil
}

func (s *Memory) Total(_ context.Context, user domain.PartyID, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[usageKey{user, day}], nil
}
