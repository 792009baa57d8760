//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"escrowd/pkg/platform/sentinel"
	"escrowd/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *Redis
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) TearDownSuite() {
	s.redis.Terminate()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushAll(context.Background()).Err())
}

func (s *RedisStoreSuite) TestAccrueUnderCap() {
	ctx := context.Background()

	total, err := s.store.Accrue(ctx, "alice", "2026-08-30", 400, 1000)
	s.Require().NoError(err)
	s.Equal(int64(400), total)

	total, err = s.store.Accrue(ctx, "alice", "2026-08-30", 600, 1000)
	s.Require().NoError(err)
	s.Equal(int64(1000), total)
}

func (s *RedisStoreSuite) TestAccrueRollsBackPastCap() {
	ctx := context.Background()

	_, err := s.store.Accrue(ctx, "alice", "2026-08-30", 900, 1000)
	s.Require().NoError(err)

	_, err = s.store.Accrue(ctx, "alice", "2026-08-30", 200, 1000)
	s.Require().ErrorIs(err, sentinel.ErrCapExceeded)

	total, err := s.store.Total(ctx, "alice", "2026-08-30")
	s.Require().NoError(err)
	s.Equal(int64(900), total, "rejected accrual must be rolled back")
}

func (s *RedisStoreSuite) TestReleaseRestoresHeadroom() {
	ctx := context.Background()

	_, err := s.store.Accrue(ctx, "alice", "2026-08-30", 1000, 1000)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Release(ctx, "alice", "2026-08-30", 600))

	total, err := s.store.Accrue(ctx, "alice", "2026-08-30", 600, 1000)
	s.Require().NoError(err)
	s.Equal(int64(1000), total)
}

func (s *RedisStoreSuite) TestTotalMissingDayIsZero() {
	total, err := s.store.Total(context.Background(), "nobody", "2026-01-01")
	s.Require().NoError(err)
	s.Zero(total)
}
