package app

import (
	"context"
	"fmt"

	"github.com/transfa/event-service/internal/domain"
)

// EventPublisher is the broker surface the queue bridge needs.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishText(ctx context.Context, exchange, routingKey, body string) error
}

// QueueTopology names the exchange and routing keys of the entry topics.
type QueueTopology struct {
	Exchange         string
	ApplyRoutingKey  string
	RaffleRoutingKey string
	WinnerRoutingKey string
}

// QueueBridge turns accepted applications into work items on the apply
// (immediate) and raffle (deferred) topics, and announces durable wins.
type QueueBridge struct {
	publisher EventPublisher
	topology  QueueTopology
}

func NewQueueBridge(publisher EventPublisher, topology QueueTopology) *QueueBridge {
	return &QueueBridge{publisher: publisher, topology: topology}
}

func (b *QueueBridge) EnqueueApply(ctx context.Context, msg domain.EntryMessage) error {
	if err := b.publisher.PublishText(ctx, b.topology.Exchange, b.topology.ApplyRoutingKey, msg.String()); err != nil {
		return fmt.Errorf("enqueue apply %s: %w", msg, err)
	}
	return nil
}

func (b *QueueBridge) EnqueueRaffle(ctx context.Context, msg domain.EntryMessage) error {
	if err := b.publisher.PublishText(ctx, b.topology.Exchange, b.topology.RaffleRoutingKey, msg.String()); err != nil {
		return fmt.Errorf("enqueue raffle %s: %w", msg, err)
	}
	return nil
}

// PublishWinner is a no-op when no winner routing key is configured.
func (b *QueueBridge) PublishWinner(ctx context.Context, event domain.WinnerEvent) error {
	if b.topology.WinnerRoutingKey == "" {
		return nil
	}
	return b.publisher.Publish(ctx, b.topology.Exchange, b.topology.WinnerRoutingKey, event)
}
