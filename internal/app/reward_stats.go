package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RewardStatsStore holds the running sum and count of rewards paid per event.
// The numbers are advisory and may be lost without affecting stock accounting.
type RewardStatsStore interface {
	Snapshot(ctx context.Context, eventID int64) (sum int64, count int64, err error)
	Record(ctx context.Context, eventID int64, amount int64) error
	// Revert removes one previously recorded payout.
	Revert(ctx context.Context, eventID int64, amount int64) error
}

type RedisRewardStats struct {
	client redis.UniversalClient
	keys   Keyspace
}

func NewRedisRewardStats(client redis.UniversalClient, keys Keyspace) *RedisRewardStats {
	return &RedisRewardStats{client: client, keys: keys}
}

func (s *RedisRewardStats) Snapshot(ctx context.Context, eventID int64) (int64, int64, error) {
	values, err := s.client.MGet(ctx, s.keys.RewardSum(eventID), s.keys.RewardCount(eventID)).Result()
	if err != nil {
		return 0, 0, err
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected reward stats response length: %d", len(values))
	}
	sum, err := parseCounter(values[0])
	if err != nil {
		return 0, 0, fmt.Errorf("reward sum: %w", err)
	}
	count, err := parseCounter(values[1])
	if err != nil {
		return 0, 0, fmt.Errorf("reward count: %w", err)
	}
	return sum, count, nil
}

// Record adds one payout to both counters in a single MULTI/EXEC.
func (s *RedisRewardStats) Record(ctx context.Context, eventID int64, amount int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, s.keys.RewardSum(eventID), amount)
		pipe.Incr(ctx, s.keys.RewardCount(eventID))
		return nil
	})
	return err
}

// Revert is the inverse of Record, for payouts whose allocation rolled back.
func (s *RedisRewardStats) Revert(ctx context.Context, eventID int64, amount int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.DecrBy(ctx, s.keys.RewardSum(eventID), amount)
		pipe.Decr(ctx, s.keys.RewardCount(eventID))
		return nil
	})
	return err
}

func parseCounter(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected counter type %T", raw)
	}
}
