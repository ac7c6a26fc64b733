package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/metrics"
	"github.com/transfa/event-service/internal/store"
	"go.uber.org/zap"
)

// EntryConsumer processes the apply and raffle topics. A nil return
// acknowledges the message; an error asks the transport to retry it.
type EntryConsumer struct {
	service *Service
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewEntryConsumer(service *Service, logger *zap.Logger, m *metrics.Metrics) *EntryConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntryConsumer{service: service, logger: logger.With(zap.String("component", "entry_consumer")), metrics: m}
}

// HandleApply runs the final first-come allocation for a queued application.
func (c *EntryConsumer) HandleApply(ctx context.Context, body []byte) error {
	msg, ok := c.decode("apply", body)
	if !ok {
		return nil
	}
	result, err := c.service.ProcessWinning(ctx, msg.EventID, msg.MemberID)
	if err != nil {
		return c.fail("apply", msg, err)
	}
	c.logger.Debug("apply message processed", zap.Stringer("message", msg), zap.String("outcome", string(result.Outcome)))
	c.metrics.ConsumerMessage("apply", "processed")
	return nil
}

// HandleRaffle creates the PENDING entry for a queued raffle application.
func (c *EntryConsumer) HandleRaffle(ctx context.Context, body []byte) error {
	msg, ok := c.decode("raffle", body)
	if !ok {
		return nil
	}
	created, err := c.service.ProcessRaffleEntry(ctx, msg.EventID, msg.MemberID)
	if err != nil {
		return c.fail("raffle", msg, err)
	}
	if !created {
		c.logger.Debug("raffle entry already recorded", zap.Stringer("message", msg))
	}
	c.metrics.ConsumerMessage("raffle", "processed")
	return nil
}

func (c *EntryConsumer) decode(queue string, body []byte) (domain.EntryMessage, bool) {
	msg, err := domain.ParseEntryMessage(string(body))
	if err != nil {
		c.logger.Warn("dropping malformed entry message", zap.String("queue", queue), zap.ByteString("body", body), zap.Error(err))
		c.metrics.ConsumerMessage(queue, "dropped")
		return domain.EntryMessage{}, false
	}
	return msg, true
}

// fail drops messages that can never succeed and surfaces everything else.
func (c *EntryConsumer) fail(queue string, msg domain.EntryMessage, err error) error {
	if errors.Is(err, store.ErrEventNotFound) || errors.Is(err, domain.ErrInvalidEntryIdentity) {
		c.logger.Warn("dropping unprocessable entry message", zap.String("queue", queue), zap.Stringer("message", msg), zap.Error(err))
		c.metrics.ConsumerMessage(queue, "dropped")
		return nil
	}
	c.metrics.ConsumerMessage(queue, "failed")
	return fmt.Errorf("process %s message %s: %w", queue, msg, err)
}
