package store

import (
	"context"
	"sync"

	"escrowd/internal/dispute"
	"escrowd/pkg/domain"
	"escrowd/pkg/platform/sentinel"
)

// Memory is the in-process dispute store. Like the escrow store it is an
// arena: ids start at 1 and slots are kept so later ids stay stable. A
// deleted record leaves a tombstone slot behind.
type Memory struct {
	mu   sync.RWMutex
	recs []dispute.Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Create(_ context.Context, rec *dispute.Record) (domain.DisputeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.DisputeID(len(m.recs) + 1)
	cp := *rec
	cp.ID = id
	m.recs = append(m.recs, cp)
	return id, nil
}

func (m *Memory) Get(_ context.Context, id domain.DisputeID) (*dispute.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id == 0 || int(id) > len(m.recs) || m.recs[id-1].ID == 0 {
		return nil, sentinel.ErrNotFound
	}
	cp := m.recs[id-1]
	return &cp, nil
}

func (m *Memory) Update(_ context.Context, rec *dispute.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == 0 || int(rec.ID) > len(m.recs) || m.recs[rec.ID-1].ID == 0 {
		return sentinel.ErrNotFound
	}
	m.recs[rec.ID-1] = *rec
	return nil
}

func (m *Memory) Delete(_ context.Context, id domain.DisputeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 || int(id) > len(m.recs) || m.recs[id-1].ID == 0 {
		return sentinel.ErrNotFound
	}
	m.recs[id-1] = dispute.Record{}
	return nil
}

func (m *Memory) GetByEscrow(_ context.Context, escrowID domain.EscrowID) (*dispute.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Scan backwards so the most recent case for the escrow wins.
	for i := len(m.recs) - 1; i >= 0; i-- {
		if m.recs[i].EscrowID == escrowID {
			cp := m.recs[i]
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}
