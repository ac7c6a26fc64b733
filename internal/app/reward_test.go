package app

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/event-service/internal/domain"
	"go.uber.org/zap/zaptest"
)

type memoryRewardStats struct {
	mu    sync.Mutex
	sum   map[int64]int64
	count map[int64]int64
}

func newMemoryRewardStats() *memoryRewardStats {
	return &memoryRewardStats{sum: make(map[int64]int64), count: make(map[int64]int64)}
}

func (s *memoryRewardStats) Snapshot(ctx context.Context, eventID int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum[eventID], s.count[eventID], nil
}

func (s *memoryRewardStats) Record(ctx context.Context, eventID int64, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum[eventID] += amount
	s.count[eventID]++
	return nil
}

func (s *memoryRewardStats) Revert(ctx context.Context, eventID int64, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum[eventID] -= amount
	s.count[eventID]--
	return nil
}

type failingRewardStats struct {
	snapshotErr error
	recordErr   error
}

func (s failingRewardStats) Snapshot(ctx context.Context, eventID int64) (int64, int64, error) {
	return 0, 0, s.snapshotErr
}

func (s failingRewardStats) Record(ctx context.Context, eventID int64, amount int64) error {
	return s.recordErr
}

func (s failingRewardStats) Revert(ctx context.Context, eventID int64, amount int64) error {
	return s.recordErr
}

func targetPolicy(eventID int64) *domain.RewardPolicy {
	return &domain.RewardPolicy{
		EventID:       eventID,
		Type:          domain.RewardTargetAverageRandom,
		MinAmount:     100,
		MaxAmount:     1000,
		TargetAverage: 300,
	}
}

func TestTargetAverageRewardConvergesOnTarget(t *testing.T) {
	stats := newMemoryRewardStats()
	strategy := NewTargetAverageRewardStrategy(stats, rand.New(rand.NewPCG(7, 11)), zaptest.NewLogger(t), nil)
	allocator, err := NewRewardAllocator(nil, strategy)
	require.NoError(t, err)

	policy := targetPolicy(1)
	ctx := context.Background()

	first, err := allocator.ComputeReward(ctx, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, policy.TargetAverage, first, "first payout seeds the average with the target")

	const trials = 10000
	for i := 1; i < trials; i++ {
		amount, err := allocator.ComputeReward(ctx, 1, policy)
		require.NoError(t, err)
		require.GreaterOrEqual(t, amount, policy.MinAmount)
		require.LessOrEqual(t, amount, policy.MaxAmount)
	}

	sum, count, err := stats.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(trials), count)
	average := float64(sum) / float64(count)
	assert.InDelta(t, float64(policy.TargetAverage), average, 0.05*float64(policy.TargetAverage))
}

func TestTargetAverageRewardPullsTowardsTarget(t *testing.T) {
	ctx := context.Background()
	policy := targetPolicy(2)

	above := newMemoryRewardStats()
	above.sum[2], above.count[2] = 900, 1
	amount, err := NewTargetAverageRewardStrategy(above, nil, nil, nil).Compute(ctx, *policy)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, amount, policy.MinAmount)
	assert.LessOrEqual(t, amount, policy.TargetAverage)

	below := newMemoryRewardStats()
	below.sum[2], below.count[2] = 100, 1
	amount, err = NewTargetAverageRewardStrategy(below, nil, nil, nil).Compute(ctx, *policy)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, amount, policy.TargetAverage)
	assert.LessOrEqual(t, amount, policy.MaxAmount)
}

func TestTargetAverageRewardFallsBackToMinimum(t *testing.T) {
	tests := []struct {
		name  string
		stats RewardStatsStore
	}{
		{name: "no stats store", stats: nil},
		{name: "snapshot fails", stats: failingRewardStats{snapshotErr: errors.New("timeout")}},
		{name: "record fails", stats: failingRewardStats{recordErr: errors.New("timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy := NewTargetAverageRewardStrategy(tt.stats, nil, zaptest.NewLogger(t), nil)
			amount, err := strategy.Compute(context.Background(), *targetPolicy(3))
			require.NoError(t, err)
			assert.Equal(t, int64(100), amount)
		})
	}
}

func TestRedisRewardStats(t *testing.T) {
	mr, client := newTestRedis(t)
	keys := NewKeyspace("test")
	stats := NewRedisRewardStats(client, keys)
	ctx := context.Background()

	sum, count, err := stats.Snapshot(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, sum)
	assert.Zero(t, count)

	require.NoError(t, stats.Record(ctx, 5, 250))
	require.NoError(t, stats.Record(ctx, 5, 350))

	sum, count, err = stats.Snapshot(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(600), sum)
	assert.Equal(t, int64(2), count)

	raw, err := mr.Get(keys.RewardSum(5))
	require.NoError(t, err)
	assert.Equal(t, "600", raw)

	require.NoError(t, stats.Revert(ctx, 5, 350))
	sum, count, err = stats.Snapshot(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(250), sum)
	assert.Equal(t, int64(1), count)
}

func TestRewardAllocatorReleaseUndoesTargetAverageStats(t *testing.T) {
	ctx := context.Background()
	stats := newMemoryRewardStats()
	allocator, err := NewRewardAllocator(nil, DefaultRewardStrategies(stats, zaptest.NewLogger(t), nil)...)
	require.NoError(t, err)

	amount, release, err := allocator.Allocate(ctx, 9, targetPolicy(9))
	require.NoError(t, err)
	require.NotNil(t, release)
	sum, count, _ := stats.Snapshot(ctx, 9)
	assert.Equal(t, amount, sum)
	assert.Equal(t, int64(1), count)

	require.NoError(t, release(ctx))
	sum, count, _ = stats.Snapshot(ctx, 9)
	assert.Zero(t, sum)
	assert.Zero(t, count)

	_, release, err = allocator.Allocate(ctx, 9, &domain.RewardPolicy{Type: domain.RewardFixed, FixedAmount: 500})
	require.NoError(t, err)
	assert.Nil(t, release, "fixed payouts keep no stats")

	failing, err := NewRewardAllocator(nil, DefaultRewardStrategies(failingRewardStats{recordErr: errors.New("timeout")}, zaptest.NewLogger(t), nil)...)
	require.NoError(t, err)
	amount, release, err = failing.Allocate(ctx, 9, targetPolicy(9))
	require.NoError(t, err)
	assert.Equal(t, int64(100), amount)
	assert.Nil(t, release, "nothing to undo when the record failed")
}

func TestRewardAllocator(t *testing.T) {
	ctx := context.Background()
	allocator, err := NewRewardAllocator(nil, FixedRewardStrategy{}, NewRangeRewardStrategy(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)

	amount, err := allocator.ComputeReward(ctx, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRewardAmount, amount)

	amount, err = allocator.ComputeReward(ctx, 1, &domain.RewardPolicy{Type: domain.RewardFixed, FixedAmount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(500), amount)

	for i := 0; i < 200; i++ {
		amount, err = allocator.ComputeReward(ctx, 1, &domain.RewardPolicy{Type: domain.RewardRangeRandom, MinAmount: 10, MaxAmount: 20})
		require.NoError(t, err)
		require.GreaterOrEqual(t, amount, int64(10))
		require.LessOrEqual(t, amount, int64(20))
	}

	_, err = allocator.ComputeReward(ctx, 1, targetPolicy(1))
	assert.ErrorIs(t, err, ErrUnsupportedRewardType)
}

func TestUniformBetweenStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	cases := []struct {
		name   string
		lo, hi int64
	}{
		{"single value", 7, 7},
		{"inverted", 9, 3},
		{"small range", 10, 20},
		{"full non-negative range", 0, math.MaxInt64},
		{"upper half", math.MaxInt64 - 1, math.MaxInt64},
		{"full int64 range", math.MinInt64, math.MaxInt64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				got := uniformBetween(rng, tc.lo, tc.hi)
				if tc.hi <= tc.lo {
					require.Equal(t, tc.lo, got)
					continue
				}
				require.GreaterOrEqual(t, got, tc.lo)
				require.LessOrEqual(t, got, tc.hi)
			}
		})
	}
}

func TestRewardStrategiesAcceptMaximalBounds(t *testing.T) {
	ctx := context.Background()
	policies := []domain.RewardPolicy{
		{EventID: 1, Type: domain.RewardRangeRandom, MinAmount: 0, MaxAmount: math.MaxInt64},
		{EventID: 2, Type: domain.RewardTargetAverageRandom, MinAmount: 0, TargetAverage: 0, MaxAmount: math.MaxInt64},
	}
	allocator, err := NewRewardAllocator(nil, DefaultRewardStrategies(newMemoryRewardStats(), zaptest.NewLogger(t), nil)...)
	require.NoError(t, err)

	for _, policy := range policies {
		require.NoError(t, policy.Validate())
		for i := 0; i < 3; i++ {
			policy := policy
			var amount int64
			require.NotPanics(t, func() {
				amount, err = allocator.ComputeReward(ctx, policy.EventID, &policy)
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, amount, int64(0))
		}
	}
}

func TestNewRewardAllocatorRejectsDuplicateTypes(t *testing.T) {
	_, err := NewRewardAllocator(nil, FixedRewardStrategy{}, FixedRewardStrategy{})
	assert.Error(t, err)
}
