package app

import (
	"context"
	"fmt"

	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/store"
	"go.uber.org/zap"
)

// ProcessWinning performs the final first-come allocation for one applicant:
// claim a stock unit, compute the reward and record the WIN, all or nothing.
// The winner event is published only after that unit of work commits.
func (s *Service) ProcessWinning(ctx context.Context, eventID, memberID int64) (domain.AllocationResult, error) {
	if _, err := s.liveEvent(ctx, eventID); err != nil {
		return domain.AllocationResult{}, err
	}
	policy, err := s.policies.Get(ctx, eventID)
	if err != nil {
		return domain.AllocationResult{}, fmt.Errorf("load reward policy: %w", err)
	}

	var release RewardRelease
	result, err := s.repo.RecordWin(ctx,
		store.RecordWinParams{EventID: eventID, MemberID: memberID, Option: domain.DefaultStockOption},
		func(ctx context.Context) (int64, error) {
			amount, rel, err := s.rewards.Allocate(ctx, eventID, policy)
			release = rel
			return amount, err
		},
	)
	if release != nil && (err != nil || !result.Won()) {
		s.releaseReward(ctx, eventID, memberID, release)
	}
	if err != nil {
		return domain.AllocationResult{}, fmt.Errorf("record win: %w", err)
	}
	s.metrics.Allocation(string(result.Outcome))

	if result.Won() {
		s.logger.Info("winner recorded",
			zap.Int64("event_id", eventID),
			zap.Int64("member_id", memberID),
			zap.Int64("entry_id", result.Entry.ID),
			zap.Int64("reward", result.Entry.RewardAmount),
		)
		s.announceWinner(ctx, result.Entry)
	}
	return result, nil
}

// ProcessRaffleEntry records a PENDING raffle entry. Redelivered messages are
// no-ops.
func (s *Service) ProcessRaffleEntry(ctx context.Context, eventID, memberID int64) (bool, error) {
	if _, err := s.liveEvent(ctx, eventID); err != nil {
		return false, err
	}
	entry, err := domain.NewPendingEntry(eventID, memberID, nil)
	if err != nil {
		return false, err
	}
	created, err := s.repo.CreatePendingEntry(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("create raffle entry: %w", err)
	}
	return created, nil
}

// releaseReward takes back the reward statistics of a payout whose win was
// rolled back or lost to a concurrent duplicate.
func (s *Service) releaseReward(ctx context.Context, eventID, memberID int64, release RewardRelease) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("reward stats release failed",
			zap.Int64("event_id", eventID),
			zap.Int64("member_id", memberID),
			zap.Error(err),
		)
	}
}

// liveEvent reports soft-deleted events as store.ErrEventNotFound.
func (s *Service) liveEvent(ctx context.Context, eventID int64) (*domain.Event, error) {
	event, err := s.repo.FindEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.IsDeleted() {
		return nil, fmt.Errorf("%w: event %d deleted", store.ErrEventNotFound, eventID)
	}
	return event, nil
}

func (s *Service) announceWinner(ctx context.Context, entry *domain.Entry) {
	if s.bridge == nil {
		return
	}
	err := s.bridge.PublishWinner(ctx, domain.WinnerEvent{
		EventID:      entry.EventID,
		MemberID:     entry.MemberID,
		EntryID:      entry.ID,
		RewardAmount: entry.RewardAmount,
		OccurredAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("winner event publish failed", zap.Int64("entry_id", entry.ID), zap.Error(err))
	}
}
