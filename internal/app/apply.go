package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/store"
	"go.uber.org/zap"
)

// Apply enters a member into an event. Negative outcomes (duplicate, denied
// admission, no stock) are returned as outcomes; errors are reserved for
// missing events, closed events and storage failures.
func (s *Service) Apply(ctx context.Context, eventID, memberID int64, contact *domain.ApplicantContact) (domain.ApplyOutcome, error) {
	event, err := s.openEvent(ctx, eventID)
	if err != nil {
		return "", err
	}

	exists, err := s.repo.EntryExists(ctx, eventID, memberID)
	if err != nil {
		return "", fmt.Errorf("check existing entry: %w", err)
	}
	if exists {
		return s.recordOutcome(event, domain.OutcomeAlreadyApplied), nil
	}

	var outcome domain.ApplyOutcome
	switch event.Type {
	case domain.EventTypeRaffle:
		outcome, err = s.applyRaffle(ctx, event, memberID, contact)
	case domain.EventTypeFirstCome:
		outcome, err = s.applyFirstCome(ctx, event, memberID)
	default:
		err = fmt.Errorf("%w: %s", ErrEventTypeInvalid, event.Type)
	}
	if err != nil {
		return "", err
	}
	return s.recordOutcome(event, outcome), nil
}

func (s *Service) openEvent(ctx context.Context, eventID int64) (*domain.Event, error) {
	event, err := s.liveEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsOpenAt(s.now()) {
		return nil, fmt.Errorf("%w: event %d", ErrEventNotOpen, eventID)
	}
	return event, nil
}

func (s *Service) recordOutcome(event *domain.Event, outcome domain.ApplyOutcome) domain.ApplyOutcome {
	s.metrics.ApplyOutcome(string(event.Type), string(outcome))
	return outcome
}

// applyRaffle queues the entry for high-traffic events and writes it directly
// otherwise.
func (s *Service) applyRaffle(ctx context.Context, event *domain.Event, memberID int64, contact *domain.ApplicantContact) (domain.ApplyOutcome, error) {
	if s.bridge != nil && s.isHighTraffic(ctx, event.ID) {
		if !s.admit(ctx, "raffle", s.keys.RaffleRateCounter(event.ID), s.keys.RaffleLimit(event.ID), s.settings.RaffleDefaultLimit) {
			return domain.OutcomeTryAgain, nil
		}
		msg := domain.EntryMessage{EventID: event.ID, MemberID: memberID}
		if err := s.bridge.EnqueueRaffle(ctx, msg); err != nil {
			s.logger.Error("raffle enqueue failed", zap.Int64("event_id", event.ID), zap.Int64("member_id", memberID), zap.Error(err))
			return domain.OutcomeEnqueueFailed, nil
		}
		return domain.OutcomeAppliedRaffle, nil
	}

	entry, err := domain.NewPendingEntry(event.ID, memberID, contact)
	if err != nil {
		return "", err
	}
	created, err := s.repo.CreatePendingEntry(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("create raffle entry: %w", err)
	}
	if !created {
		return domain.OutcomeAlreadyApplied, nil
	}
	return domain.OutcomeAppliedRaffle, nil
}

func (s *Service) applyFirstCome(ctx context.Context, event *domain.Event, memberID int64) (domain.ApplyOutcome, error) {
	if !s.admit(ctx, "first_come", s.keys.RateCounter(event.ID), s.keys.Limit(event.ID), s.settings.FirstComeDefaultLimit) {
		return domain.OutcomeLose, nil
	}

	stock, err := s.repo.FindStock(ctx, event.ID, domain.DefaultStockOption)
	if err != nil && !errors.Is(err, store.ErrStockNotFound) {
		return "", fmt.Errorf("check stock: %w", err)
	}
	if !stock.HasStock() {
		return domain.OutcomeLose, nil
	}

	if s.bridge == nil || s.settings.SyncFirstCome {
		result, err := s.ProcessWinning(ctx, event.ID, memberID)
		if err != nil {
			return "", err
		}
		return result.ApplyOutcome(), nil
	}

	msg := domain.EntryMessage{EventID: event.ID, MemberID: memberID}
	if err := s.bridge.EnqueueApply(ctx, msg); err != nil {
		s.logger.Error("apply enqueue failed", zap.Int64("event_id", event.ID), zap.Int64("member_id", memberID), zap.Error(err))
		return domain.OutcomeEnqueueFailed, nil
	}
	return domain.OutcomeApplied, nil
}

// admit fails open: the stock ledger stays the correctness backstop when the
// shared store is unreachable.
func (s *Service) admit(ctx context.Context, scope, key, limitKey string, defaultLimit int) bool {
	if s.limiter == nil {
		return true
	}
	allowed, err := s.limiter.Allow(ctx, key, limitKey, defaultLimit)
	if err != nil {
		s.metrics.LimiterDecision(scope, "error")
		s.logger.Warn("admission limiter unavailable; allowing", zap.String("scope", scope), zap.String("key", key), zap.Error(err))
		return true
	}
	if !allowed {
		s.metrics.LimiterDecision(scope, "denied")
		return false
	}
	s.metrics.LimiterDecision(scope, "allowed")
	return true
}

// isHighTraffic treats an unreadable flag as unset, which routes entries to
// the direct write path.
func (s *Service) isHighTraffic(ctx context.Context, eventID int64) bool {
	if s.traffic == nil {
		return false
	}
	high, err := s.traffic.IsHighTraffic(ctx, eventID)
	if err != nil {
		s.logger.Warn("traffic policy unavailable; using direct raffle entry", zap.Int64("event_id", eventID), zap.Error(err))
		return false
	}
	return high
}
