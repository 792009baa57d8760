package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"escrowd/pkg/domain"
	"escrowd/pkg/platform/sentinel"
)

// Redis keeps daily volume counters in Redis so the cap holds across engine
// replicas. Keys expire two days after creation; a counter is only ever read
// on its own day.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ttl: 48 * time.Hour}
}

func key(user domain.PartyID, day string) string {
	return fmt.Sprintf("volume:%s:%s", user, day)
}

// Accrue increments the counter and rolls back the increment when the result
// exceeds the cap, mirroring the memory store's check-and-add semantics.
// Concurrent callers may transiently observe the overshoot, but no caller is
// admitted past the cap.
func (s *Redis) Accrue(ctx context.Context, user domain.PartyID, day string, amount, limit int64) (int64, error) {
	k := key(user, day)
	next, err := s.client.IncrBy(ctx, k, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("incrby %s: %w", k, err)
	}
	if next == amount {
		// First write for this day; bound the key's lifetime.
		if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
			return 0, fmt.Errorf("expire %s: %w", k, err)
		}
	}
	if limit > 0 && next > limit {
		if err := s.client.DecrBy(ctx, k, amount).Err(); err != nil {
			return 0, fmt.Errorf("rollback %s: %w", k, err)
		}
		return next - amount, sentinel.ErrCapExceeded
	}
	return next, nil
}

// Release hands a reserved amount back to the day's counter. The floor is not
// clamped here; a release always pairs with an earlier successful Accrue.
func (s *Redis) Release(ctx context.Context, user domain.PartyID, day string, amount int64) error {
	k := key(user, day)
	if err := s.client.DecrBy(ctx, k, amount).Err(); err != nil {
		return fmt.Errorf("decrby %s: %w", k, err)
	}
	return nil
}

func (s *Redis) Total(ctx context.Context, user domain.PartyID, day string) (int64, error) {
	total, err := s.client.Get(ctx, key(user, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key(user, day), err)
	}
	return total, nil
}
