package store

import (
	"context"
	"sync"

	"escrowd/internal/escrow"
	"escrowd/pkg/domain"
	"escrowd/pkg/platform/sentinel"
)

// Memory is the arena-style in-process store: a growable slice keyed by
// sequential id, entries never removed. Validity is an explicit bounds check
// (1 <= id <= count), not a sentinel value.
type Memory struct {
	mu      sync.RWMutex
	records []*escrow.Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Create(_ context.Context, rec *escrow.Record) (domain.EscrowID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := domain.EscrowID(len(s.records) + 1)
	rec.ID = id
	stored := *rec
	s.records = append(s.records, &stored)
	return id, nil
}

func (s *Memory) Get(_ context.Context, id domain.EscrowID) (*escrow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == 0 || uint64(id) > uint64(len(s.records)) {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.records[id-1]
	return &cp, nil
}

func (s *Memory) Update(_ context.Context, rec *escrow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == 0 || uint64(rec.ID) > uint64(len(s.records)) {
		return sentinel.ErrNotFound
	}
	stored := *rec
	s.records[rec.ID-1] = &stored
	return nil
}

func (s *Memory) ListByParty(_ context.Context, party domain.PartyID) ([]*escrow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*escrow.Record
	for _, rec := range s.records {
		if rec.IsParticipant(party) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Memory) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.records)), nil
}
