// Package params holds the tunable parameters the escrow engine consults at
// call time. The core only reads them; mutation happens exclusively through
// the governance service, which validates ranges before writing.
package params

import (
	"context"
	"sync"
	"time"
)

// Params is the full parameter set in force at one instant. Amounts are in
// minor units; fee clamps are fiat-denominated (see the fee package for the
// 1:1 settlement simplification).
type Params struct {
	FeeBps        int64
	MinFee        int64
	MaxFee        int64
	MaxFiatAmount int64

	MinTimeout time.Duration
	MaxTimeout time.Duration

	// RefundWindow is the mandatory delay between a refund request and its
	// execution, during which a dispute takes precedence.
	RefundWindow     time.Duration
	EvidenceWindow   time.Duration
	ArbitratorWindow time.Duration

	DailyVolumeCap int64
	ArbitrationFee int64
}

// Defaults returns the parameter set used when governance has written nothing.
func Defaults() Params {
	return Params{
		FeeBps:           100, // 1%
		MinFee:           1,
		MaxFee:           1_000_000,
		MaxFiatAmount:    100_000_000,
		MinTimeout:       time.Hour,
		MaxTimeout:       30 * 24 * time.Hour,
		RefundWindow:     72 * time.Hour,
		EvidenceWindow:   72 * time.Hour,
		ArbitratorWindow: 7 * 24 * time.Hour,
		DailyVolumeCap:   10_000_000,
		ArbitrationFee:   50,
	}
}

// Store supplies the parameters in force. Reads must be cheap; every escrow
// operation takes a snapshot at entry.
type Store interface {
	Get(ctx context.Context) (Params, error)
	Update(ctx context.Context, p Params) error
}

// MemoryStore is the in-process parameter store.
type MemoryStore struct {
	mu     sync.RWMutex
	params Params
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{params: Defaults()}
}

func (s *MemoryStore) Get(_ context.Context) (Params, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params, nil
}

func (s *MemoryStore) Update(_ context.Context, p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	return nil
}
