package domain

import (
	"errors"
	"fmt"
	"strings"
)

// RewardType selects the payout mode of an event.
type RewardType string

const (
	RewardFixed               RewardType = "FIXED"
	RewardRangeRandom         RewardType = "RANGE_RANDOM"
	RewardTargetAverageRandom RewardType = "TARGET_AVERAGE_RANDOM"
)

// DefaultRewardAmount is paid to winners of events without a reward policy.
const DefaultRewardAmount int64 = 1

var ErrInvalidRewardPolicy = errors.New("invalid reward policy")

// ParseRewardType normalizes user supplied reward types.
func ParseRewardType(raw string) (RewardType, error) {
	switch RewardType(strings.ToUpper(strings.TrimSpace(raw))) {
	case RewardFixed:
		return RewardFixed, nil
	case RewardRangeRandom:
		return RewardRangeRandom, nil
	case RewardTargetAverageRandom:
		return RewardTargetAverageRandom, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidRewardPolicy, raw)
	}
}

// RewardPolicy is the per-event payout configuration. It is read-only to the
// allocation engine.
type RewardPolicy struct {
	EventID       int64      `json:"event_id"`
	Type          RewardType `json:"type"`
	FixedAmount   int64      `json:"fixed_amount,omitempty"`
	MinAmount     int64      `json:"min_amount,omitempty"`
	MaxAmount     int64      `json:"max_amount,omitempty"`
	TargetAverage int64      `json:"target_average,omitempty"`
}

// Validate checks that the bounds required by the policy's mode are coherent.
func (p RewardPolicy) Validate() error {
	switch p.Type {
	case RewardFixed:
		if p.FixedAmount < 0 {
			return fmt.Errorf("%w: fixed amount must not be negative", ErrInvalidRewardPolicy)
		}
	case RewardRangeRandom:
		if p.MinAmount < 0 || p.MaxAmount < p.MinAmount {
			return fmt.Errorf("%w: range must satisfy 0 <= min <= max", ErrInvalidRewardPolicy)
		}
	case RewardTargetAverageRandom:
		if p.MinAmount < 0 || p.TargetAverage < p.MinAmount || p.MaxAmount < p.TargetAverage {
			return fmt.Errorf("%w: bounds must satisfy 0 <= min <= target <= max", ErrInvalidRewardPolicy)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRewardPolicy, p.Type)
	}
	return nil
}
