package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/store"
	"go.uber.org/zap"
)

// CreateEvent stores a new event together with its draw lock, default stock
// and optional reward policy.
func (s *Service) CreateEvent(ctx context.Context, params store.CreateEventParams) (*domain.Event, error) {
	if err := params.Event.Validate(); err != nil {
		return nil, err
	}
	if params.InitialStock < 0 {
		return nil, fmt.Errorf("%w: initial stock must not be negative", domain.ErrInvalidReplenishCount)
	}
	if params.RewardPolicy != nil {
		if err := params.RewardPolicy.Validate(); err != nil {
			return nil, err
		}
	}

	event, err := s.repo.CreateEvent(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.logger.Info("event created",
		zap.Int64("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Int("max_winners", event.MaxWinners),
		zap.Int64("initial_stock", params.InitialStock),
	)
	return event, nil
}

// ReplenishStock adds count units to an event's stock option.
func (s *Service) ReplenishStock(ctx context.Context, eventID int64, option string, count int64) (*domain.Stock, error) {
	if count <= 0 {
		return nil, domain.ErrInvalidReplenishCount
	}
	if _, err := s.repo.FindEventByID(ctx, eventID); err != nil {
		return nil, err
	}
	stock, err := s.repo.ReplenishStock(ctx, eventID, domain.NormalizeStockOption(option), count)
	if err != nil {
		return nil, fmt.Errorf("replenish stock: %w", err)
	}
	return stock, nil
}

// DeleteEvent soft-deletes the event and erases its applicants' contact data.
func (s *Service) DeleteEvent(ctx context.Context, eventID int64) error {
	erased, err := s.repo.SoftDeleteEvent(ctx, eventID, s.now().UTC())
	if err != nil {
		return err
	}
	s.policies.Invalidate(eventID)
	s.logger.Info("event deleted", zap.Int64("event_id", eventID), zap.Int64("contacts_erased", erased))
	return nil
}

func (s *Service) EventSummary(ctx context.Context, eventID int64) (*domain.EventSummary, error) {
	if _, err := s.repo.FindEventByID(ctx, eventID); err != nil {
		return nil, err
	}
	summary := &domain.EventSummary{EventID: eventID}
	counts := []struct {
		status domain.WinningStatus
		dst    *int64
	}{
		{domain.StatusPending, &summary.Pending},
		{domain.StatusWin, &summary.Won},
		{domain.StatusLose, &summary.Lost},
	}
	for _, c := range counts {
		n, err := s.repo.CountEntriesByStatus(ctx, eventID, c.status)
		if err != nil {
			return nil, fmt.Errorf("count %s entries: %w", c.status, err)
		}
		*c.dst = n
	}

	stock, err := s.repo.FindStock(ctx, eventID, domain.DefaultStockOption)
	switch {
	case errors.Is(err, store.ErrStockNotFound):
	case err != nil:
		return nil, fmt.Errorf("load stock: %w", err)
	default:
		summary.RemainingStock = stock.Remaining
	}
	return summary, nil
}

// ListWinners pages through the event's WIN entries in creation order.
func (s *Service) ListWinners(ctx context.Context, eventID int64, limit, offset int) ([]domain.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEntriesByStatus(ctx, eventID, domain.StatusWin, limit, offset)
}
