package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/store"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	logger := zaptest.NewLogger(t)
	rewards, err := NewRewardAllocator(nil, DefaultRewardStrategies(nil, logger, nil)...)
	require.NoError(t, err)

	svc := NewService(repo, rewards, NewKeyspace("test"), logger)
	svc.now = func() time.Time { return testNow }
	return svc, repo
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type testEventOptions struct {
	eventType  domain.EventType
	maxWinners int
	stock      int64
	policy     *domain.RewardPolicy
	startsAt   time.Time
	endsAt     time.Time
}

func createTestEvent(t *testing.T, svc *Service, opts testEventOptions) *domain.Event {
	t.Helper()
	if opts.eventType == "" {
		opts.eventType = domain.EventTypeFirstCome
	}
	if opts.startsAt.IsZero() {
		opts.startsAt = testNow.Add(-time.Hour)
	}
	if opts.endsAt.IsZero() {
		opts.endsAt = testNow.Add(time.Hour)
	}
	event, err := svc.CreateEvent(context.Background(), store.CreateEventParams{
		Event: domain.Event{
			Title:      "launch giveaway",
			Type:       opts.eventType,
			StartsAt:   opts.startsAt,
			EndsAt:     opts.endsAt,
			MaxWinners: opts.maxWinners,
		},
		InitialStock: opts.stock,
		RewardPolicy: opts.policy,
	})
	require.NoError(t, err)
	return event
}

func addPendingEntries(t *testing.T, svc *Service, eventID int64, members int) {
	t.Helper()
	for member := 1; member <= members; member++ {
		created, err := svc.ProcessRaffleEntry(context.Background(), eventID, int64(member))
		require.NoError(t, err)
		require.True(t, created)
	}
}

type publishedMessage struct {
	exchange   string
	routingKey string
	body       interface{}
}

// recordingPublisher captures published messages, failing every call when err
// is set.
type recordingPublisher struct {
	mu       sync.Mutex
	err      error
	messages []publishedMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return p.record(exchange, routingKey, body)
}

func (p *recordingPublisher) PublishText(ctx context.Context, exchange, routingKey, body string) error {
	return p.record(exchange, routingKey, body)
}

func (p *recordingPublisher) record(exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, publishedMessage{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) byRoutingKey(routingKey string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.messages {
		if m.routingKey == routingKey {
			out = append(out, m)
		}
	}
	return out
}

var testTopology = QueueTopology{
	Exchange:         "event.entries",
	ApplyRoutingKey:  "event.apply",
	RaffleRoutingKey: "event.raffle",
	WinnerRoutingKey: "event.entry.won",
}

var errBrokerDown = errors.New("broker unavailable")
