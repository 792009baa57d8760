// Package volume enforces the per-user daily notional cap. Each chargeable
// action (proposal creation and proposal acceptance) accrues the fiat notional
// against the caller's running total for the current UTC day.
package volume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"escrowd/pkg/domain"
	dErrors "escrowd/pkg/domain-errors"
	"escrowd/pkg/platform/sentinel"
)

// Store tracks cumulative per-user, per-day notional. Accrue must be atomic:
// it either records the full amount under the cap or records nothing. Release
// undoes an earlier Accrue when the charging operation aborts.
type Store interface {
	Accrue(ctx context.Context, user domain.PartyID, day string, amount, limit int64) (total int64, err error)
	Release(ctx context.Context, user domain.PartyID, day string, amount int64) error
	Total(ctx context.Context, user domain.PartyID, day string) (int64, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("volume store is required")
	}
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// DayKey buckets an instant into its UTC day.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Reserve charges amount against the user's cap for the day containing now.
// A charge that would push the running total past the cap is rejected and
// nothing is recorded.
func (s *Service) Reserve(ctx context.Context, user domain.PartyID, amount, limit int64, now time.Time) error {
	if amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "notional must be positive")
	}
	_, err := s.store.Accrue(ctx, user, DayKey(now), amount, limit)
	if err != nil {
		if errors.Is(err, sentinel.ErrCapExceeded) {
			if s.logger != nil {
				s.logger.InfoContext(ctx, "daily volume cap exceeded",
					"user", user, "amount", amount, "cap", limit)
			}
			return dErrors.Newf(dErrors.CodeInsufficientFunds,
				"daily volume cap of %d exceeded", limit)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to accrue volume")
	}
	return nil
}

// Release returns a previously reserved amount to the user's allowance for
// the day containing now. Call it when the operation that charged the cap
// aborts after the reservation succeeded.
func (s *Service) Release(ctx context.Context, user domain.PartyID, amount int64, now time.Time) error {
	if amount <= 0 {
		return nil
	}
	if err := s.store.Release(ctx, user, DayKey(now), amount); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release reserved volume")
	}
	return nil
}

// UsedToday reports the user's accrued notional for the day containing now.
func (s *Service) UsedToday(ctx context.Context, user domain.PartyID, now time.Time) (int64, error) {
	return s.store.Total(ctx, user, DayKey(now))
}
