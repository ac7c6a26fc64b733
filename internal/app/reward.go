package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/metrics"
	"go.uber.org/zap"
)

var ErrUnsupportedRewardType = errors.New("unsupported reward type")

// randomSource is satisfied by *rand.Rand; the zero-configured default uses
// the goroutine-safe package-level generator.
type randomSource interface {
	Int64N(n int64) int64
	Uint64N(n uint64) uint64
}

type globalRandom struct{}

func (globalRandom) Int64N(n int64) int64    { return rand.Int64N(n) }
func (globalRandom) Uint64N(n uint64) uint64 { return rand.Uint64N(n) }

// uniformBetween returns a uniform integer in [lo, hi]. The span is computed
// in uint64 so [0, MaxInt64] does not overflow.
func uniformBetween(rng randomSource, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	span := uint64(hi) - uint64(lo)
	if span == ^uint64(0) {
		return int64(uint64(lo) + rng.Uint64N(span))
	}
	return int64(uint64(lo) + rng.Uint64N(span+1))
}

// RewardStrategy computes the payout of one reward type.
type RewardStrategy interface {
	Type() domain.RewardType
	Compute(ctx context.Context, policy domain.RewardPolicy) (int64, error)
}

// RewardRelease undoes the side effects of a payout whose allocation did not
// commit.
type RewardRelease func(ctx context.Context) error

// releasingRewardStrategy is implemented by strategies whose Compute writes
// outside the allocation's unit of work.
type releasingRewardStrategy interface {
	computeWithRelease(ctx context.Context, policy domain.RewardPolicy) (int64, RewardRelease, error)
}

// RewardAllocator dispatches to the strategy registered for a policy's type.
type RewardAllocator struct {
	strategies map[domain.RewardType]RewardStrategy
	metrics    *metrics.Metrics
}

// NewRewardAllocator registers the strategies, rejecting duplicate types.
func NewRewardAllocator(m *metrics.Metrics, strategies ...RewardStrategy) (*RewardAllocator, error) {
	registry := make(map[domain.RewardType]RewardStrategy, len(strategies))
	for _, s := range strategies {
		if _, dup := registry[s.Type()]; dup {
			return nil, fmt.Errorf("reward strategy %s registered twice", s.Type())
		}
		registry[s.Type()] = s
	}
	return &RewardAllocator{strategies: registry, metrics: m}, nil
}

// ComputeReward pays DefaultRewardAmount when the event has no policy.
func (a *RewardAllocator) ComputeReward(ctx context.Context, eventID int64, policy *domain.RewardPolicy) (int64, error) {
	amount, _, err := a.Allocate(ctx, eventID, policy)
	return amount, err
}

// Allocate computes the payout like ComputeReward and also returns the
// release to call if the win is not committed. The release is nil when the
// payout left nothing behind.
func (a *RewardAllocator) Allocate(ctx context.Context, eventID int64, policy *domain.RewardPolicy) (int64, RewardRelease, error) {
	if policy == nil {
		a.metrics.RewardPaid("NONE", domain.DefaultRewardAmount)
		return domain.DefaultRewardAmount, nil, nil
	}
	strategy, ok := a.strategies[policy.Type]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q", ErrUnsupportedRewardType, policy.Type)
	}
	p := *policy
	if p.EventID == 0 {
		p.EventID = eventID
	}

	var (
		amount  int64
		release RewardRelease
		err     error
	)
	if r, ok := strategy.(releasingRewardStrategy); ok {
		amount, release, err = r.computeWithRelease(ctx, p)
	} else {
		amount, err = strategy.Compute(ctx, p)
	}
	if err != nil {
		return 0, nil, err
	}
	a.metrics.RewardPaid(string(p.Type), amount)
	return amount, release, nil
}

type FixedRewardStrategy struct{}

func (FixedRewardStrategy) Type() domain.RewardType { return domain.RewardFixed }

func (FixedRewardStrategy) Compute(ctx context.Context, policy domain.RewardPolicy) (int64, error) {
	return policy.FixedAmount, nil
}

type RangeRewardStrategy struct {
	rng randomSource
}

func NewRangeRewardStrategy(rng randomSource) *RangeRewardStrategy {
	if rng == nil {
		rng = globalRandom{}
	}
	return &RangeRewardStrategy{rng: rng}
}

func (s *RangeRewardStrategy) Type() domain.RewardType { return domain.RewardRangeRandom }

func (s *RangeRewardStrategy) Compute(ctx context.Context, policy domain.RewardPolicy) (int64, error) {
	return uniformBetween(s.rng, policy.MinAmount, policy.MaxAmount), nil
}

// TargetAverageRewardStrategy steers the running average towards the target:
// above it, the next payout comes from [min, target]; otherwise from
// [target, max]. The first payout of an event is the target itself.
// When the stats store cannot be read or updated the payout is min.
type TargetAverageRewardStrategy struct {
	stats   RewardStatsStore
	rng     randomSource
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewTargetAverageRewardStrategy(stats RewardStatsStore, rng randomSource, logger *zap.Logger, m *metrics.Metrics) *TargetAverageRewardStrategy {
	if rng == nil {
		rng = globalRandom{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TargetAverageRewardStrategy{stats: stats, rng: rng, logger: logger, metrics: m}
}

func (s *TargetAverageRewardStrategy) Type() domain.RewardType {
	return domain.RewardTargetAverageRandom
}

func (s *TargetAverageRewardStrategy) Compute(ctx context.Context, policy domain.RewardPolicy) (int64, error) {
	amount, _, err := s.computeWithRelease(ctx, policy)
	return amount, err
}

func (s *TargetAverageRewardStrategy) computeWithRelease(ctx context.Context, policy domain.RewardPolicy) (int64, RewardRelease, error) {
	if s.stats == nil {
		return s.fallback(policy, errors.New("reward stats store not configured")), nil, nil
	}

	sum, count, err := s.stats.Snapshot(ctx, policy.EventID)
	if err != nil {
		return s.fallback(policy, err), nil, nil
	}

	amount := policy.TargetAverage
	if count > 0 {
		average := float64(sum) / float64(count)
		if average > float64(policy.TargetAverage) {
			amount = uniformBetween(s.rng, policy.MinAmount, policy.TargetAverage)
		} else {
			amount = uniformBetween(s.rng, policy.TargetAverage, policy.MaxAmount)
		}
	}

	if err := s.stats.Record(ctx, policy.EventID, amount); err != nil {
		return s.fallback(policy, err), nil, nil
	}
	release := func(ctx context.Context) error {
		return s.stats.Revert(ctx, policy.EventID, amount)
	}
	return amount, release, nil
}

func (s *TargetAverageRewardStrategy) fallback(policy domain.RewardPolicy, cause error) int64 {
	s.metrics.RewardFallback()
	s.logger.Warn("reward stats unavailable; paying minimum",
		zap.Int64("event_id", policy.EventID),
		zap.Int64("amount", policy.MinAmount),
		zap.Error(cause),
	)
	return policy.MinAmount
}

// DefaultRewardStrategies returns the built-in strategies sharing one stats
// store.
func DefaultRewardStrategies(stats RewardStatsStore, logger *zap.Logger, m *metrics.Metrics) []RewardStrategy {
	return []RewardStrategy{
		FixedRewardStrategy{},
		NewRangeRewardStrategy(nil),
		NewTargetAverageRewardStrategy(stats, nil, logger, m),
	}
}
