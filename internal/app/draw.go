package app

import (
	"context"
	"fmt"
	"time"

	"github.com/transfa/event-service/internal/domain"
	"go.uber.org/zap"
)

// DrawFirstCome resolves the limit oldest PENDING entries to WIN. Entries are
// ordered by creation sequence, so the first applicants always win.
func (s *Service) DrawFirstCome(ctx context.Context, eventID int64, limit int) (int64, error) {
	if limit <= 0 {
		return 0, ErrInvalidDrawLimit
	}
	started := time.Now()
	log := s.logger.With(zap.Int64("event_id", eventID), zap.String("strategy", "first_come"))

	var winners int64
	err := s.repo.WithDrawLock(ctx, eventID, func(ctx context.Context) error {
		log.Debug("draw lock acquired")
		ids, err := s.repo.ListEntryIDsByStatus(ctx, eventID, domain.StatusPending, 0, limit)
		if err != nil {
			return fmt.Errorf("list pending entries: %w", err)
		}
		winners, err = s.commitWinners(ctx, ids)
		return err
	})
	if err != nil {
		log.Error("first-come draw failed", zap.Int64("winners_committed", winners), zap.Error(err))
		return winners, err
	}

	s.metrics.DrawCompleted("first_come", winners, time.Since(started))
	log.Info("first-come draw committed", zap.Int64("winners", winners))
	return winners, nil
}

// DrawRandom fills the event's remaining winner capacity with a uniform
// sample of its PENDING entries. Running it again once capacity is reached
// selects nobody.
func (s *Service) DrawRandom(ctx context.Context, eventID int64) (int64, error) {
	started := time.Now()
	log := s.logger.With(zap.Int64("event_id", eventID), zap.String("strategy", "random"))

	var winners int64
	err := s.repo.WithDrawLock(ctx, eventID, func(ctx context.Context) error {
		log.Debug("draw lock acquired")

		event, err := s.repo.FindEventByID(ctx, eventID)
		if err != nil {
			return err
		}
		current, err := s.repo.CountEntriesByStatus(ctx, eventID, domain.StatusWin)
		if err != nil {
			return fmt.Errorf("count winners: %w", err)
		}
		needed := event.NeededWinnerCount(current)
		log.Debug("needed count computed", zap.Int64("current_winners", current), zap.Int("needed", needed))
		if needed <= 0 {
			log.Info("draw capacity already filled; nothing to do")
			return nil
		}

		ids, seen, err := SampleIDs(ctx, needed, s.settings.DrawPageSize, s.pendingPage(eventID), s.rng)
		if err != nil {
			return fmt.Errorf("sample pending entries: %w", err)
		}
		log.Debug("candidates sampled", zap.Int64("candidates", seen), zap.Int("selected", len(ids)))

		winners, err = s.commitWinners(ctx, ids)
		return err
	})
	if err != nil {
		log.Error("random draw failed", zap.Int64("winners_committed", winners), zap.Error(err))
		return winners, err
	}

	s.metrics.DrawCompleted("random", winners, time.Since(started))
	log.Info("random draw committed", zap.Int64("winners", winners))
	return winners, nil
}

// CloseDraw resolves every remaining PENDING entry to LOSE.
func (s *Service) CloseDraw(ctx context.Context, eventID int64) (int64, error) {
	log := s.logger.With(zap.Int64("event_id", eventID))
	committer := NewPartitionedCommitter(s.settings.CommitChunkSize, s.repo.MarkEntriesLost)

	var losers int64
	err := s.repo.WithDrawLock(ctx, eventID, func(ctx context.Context) error {
		next := s.pendingPage(eventID)
		for {
			// Resolved rows leave the PENDING set, so every page starts over.
			ids, err := next(ctx, 0, s.settings.DrawPageSize)
			if err != nil {
				return fmt.Errorf("list pending entries: %w", err)
			}
			if len(ids) == 0 {
				return nil
			}
			affected, err := committer.Commit(ctx, ids)
			losers += affected
			if err != nil {
				return err
			}
			if affected == 0 {
				return nil
			}
		}
	})
	if err != nil {
		log.Error("closing draw failed", zap.Int64("losers_committed", losers), zap.Error(err))
		return losers, err
	}
	log.Info("draw closed", zap.Int64("losers", losers))
	return losers, nil
}

func (s *Service) pendingPage(eventID int64) IDPageFunc {
	return func(ctx context.Context, afterID int64, limit int) ([]int64, error) {
		return s.repo.ListEntryIDsByStatus(ctx, eventID, domain.StatusPending, afterID, limit)
	}
}

func (s *Service) commitWinners(ctx context.Context, ids []int64) (int64, error) {
	committer := NewPartitionedCommitter(s.settings.CommitChunkSize, s.repo.MarkEntriesWon)
	return committer.Commit(ctx, ids)
}
