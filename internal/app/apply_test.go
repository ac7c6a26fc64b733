package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/store"
)

func countOutcomes(outcomes []domain.ApplyOutcome) map[domain.ApplyOutcome]int {
	counts := make(map[domain.ApplyOutcome]int)
	for _, o := range outcomes {
		counts[o]++
	}
	return counts
}

func applyConcurrently(t *testing.T, svc *Service, eventID int64, applicants int) []domain.ApplyOutcome {
	t.Helper()
	outcomes := make([]domain.ApplyOutcome, applicants)
	var wg sync.WaitGroup
	for i := 0; i < applicants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := svc.Apply(context.Background(), eventID, int64(i+1), nil)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()
	return outcomes
}

func TestApplyFirstComeNeverOversells(t *testing.T) {
	svc, repo := newTestService(t)
	event := createTestEvent(t, svc, testEventOptions{stock: 10})

	counts := countOutcomes(applyConcurrently(t, svc, event.ID, 100))
	assert.Equal(t, 10, counts[domain.OutcomeWin])
	assert.Equal(t, 90, counts[domain.OutcomeLose])

	stock, err := repo.FindStock(context.Background(), event.ID, domain.DefaultStockOption)
	require.NoError(t, err)
	assert.Zero(t, stock.Remaining)
	won, err := repo.CountEntriesByStatus(context.Background(), event.ID, domain.StatusWin)
	require.NoError(t, err)
	assert.Equal(t, int64(10), won)
}

func TestApplyFirstComeAdmissionLimit(t *testing.T) {
	svc, _ := newTestService(t)
	_, client := newTestRedis(t)
	svc.SetAdmissionLimiter(NewRedisAdmissionLimiter(client, time.Second))
	event := createTestEvent(t, svc, testEventOptions{stock: 50})

	counts := countOutcomes(applyConcurrently(t, svc, event.ID, 100))
	assert.Equal(t, defaultFirstComeLimit, counts[domain.OutcomeWin])
	assert.Equal(t, 100-defaultFirstComeLimit, counts[domain.OutcomeLose])
}

func TestApplyFirstComeFailsOpenWhenLimiterIsDown(t *testing.T) {
	svc, _ := newTestService(t)
	mr, client := newTestRedis(t)
	svc.SetAdmissionLimiter(NewRedisAdmissionLimiter(client, time.Second))
	mr.Close()
	event := createTestEvent(t, svc, testEventOptions{stock: 1})

	outcome, err := svc.Apply(context.Background(), event.ID, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWin, outcome)
}

func TestApplyReportsAlreadyApplied(t *testing.T) {
	svc, _ := newTestService(t)
	event := createTestEvent(t, svc, testEventOptions{stock: 5})
	ctx := context.Background()

	outcome, err := svc.Apply(ctx, event.ID, 9, nil)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeWin, outcome)

	outcome, err = svc.Apply(ctx, event.ID, 9, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyApplied, outcome)
}

func TestApplyRejectsUnavailableEvents(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Apply(ctx, 404, 1, nil)
	assert.ErrorIs(t, err, store.ErrEventNotFound)

	ended := createTestEvent(t, svc, testEventOptions{
		stock:    5,
		startsAt: testNow.Add(-2 * time.Hour),
		endsAt:   testNow,
	})
	_, err = svc.Apply(ctx, ended.ID, 1, nil)
	assert.ErrorIs(t, err, ErrEventNotOpen)

	deleted := createTestEvent(t, svc, testEventOptions{stock: 5})
	require.NoError(t, svc.DeleteEvent(ctx, deleted.ID))
	_, err = svc.Apply(ctx, deleted.ID, 1, nil)
	assert.ErrorIs(t, err, store.ErrEventNotFound)
}

func TestApplyFirstComeQueuesWhenAsync(t *testing.T) {
	svc, repo := newTestService(t)
	publisher := &recordingPublisher{}
	svc.SetQueueBridge(NewQueueBridge(publisher, testTopology))
	event := createTestEvent(t, svc, testEventOptions{stock: 5})
	ctx := context.Background()

	outcome, err := svc.Apply(ctx, event.ID, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	queued := publisher.byRoutingKey(testTopology.ApplyRoutingKey)
	require.Len(t, queued, 1)
	assert.Equal(t, testTopology.Exchange, queued[0].exchange)
	assert.Equal(t, domain.EntryMessage{EventID: event.ID, MemberID: 42}.String(), queued[0].body)

	exists, err := repo.EntryExists(ctx, event.ID, 42)
	require.NoError(t, err)
	assert.False(t, exists, "allocation happens in the consumer")
}

func TestApplyReportsEnqueueFailure(t *testing.T) {
	svc, repo := newTestService(t)
	svc.SetQueueBridge(NewQueueBridge(&recordingPublisher{err: errBrokerDown}, testTopology))
	event := createTestEvent(t, svc, testEventOptions{stock: 5})
	ctx := context.Background()

	outcome, err := svc.Apply(ctx, event.ID, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeEnqueueFailed, outcome)

	stock, err := repo.FindStock(ctx, event.ID, domain.DefaultStockOption)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stock.Remaining)
}

func TestApplyFirstComeSyncModeAllocatesInline(t *testing.T) {
	svc, _ := newTestService(t)
	publisher := &recordingPublisher{}
	svc.SetQueueBridge(NewQueueBridge(publisher, testTopology))
	settings := DefaultSettings()
	settings.SyncFirstCome = true
	svc.Configure(settings)
	event := createTestEvent(t, svc, testEventOptions{
		stock:  1,
		policy: &domain.RewardPolicy{Type: domain.RewardFixed, FixedAmount: 700},
	})
	ctx := context.Background()

	outcome, err := svc.Apply(ctx, event.ID, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWin, outcome)
	assert.Empty(t, publisher.byRoutingKey(testTopology.ApplyRoutingKey))

	winners := publisher.byRoutingKey(testTopology.WinnerRoutingKey)
	require.Len(t, winners, 1)
	announced, ok := winners[0].body.(domain.WinnerEvent)
	require.True(t, ok)
	assert.Equal(t, int64(1), announced.MemberID)
	assert.Equal(t, int64(700), announced.RewardAmount)

	outcome, err = svc.Apply(ctx, event.ID, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeLose, outcome, "stock is exhausted")
}

func TestApplyRaffleWritesPendingEntry(t *testing.T) {
	svc, repo := newTestService(t)
	event := createTestEvent(t, svc, testEventOptions{eventType: domain.EventTypeRaffle, maxWinners: 3})
	ctx := context.Background()
	contact := &domain.ApplicantContact{Phone: "010-0000-0000", Email: "member@example.com"}

	outcome, err := svc.Apply(ctx, event.ID, 5, contact)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAppliedRaffle, outcome)

	pending, err := repo.ListEntriesByStatus(ctx, event.ID, domain.StatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(5), pending[0].MemberID)
	require.NotNil(t, pending[0].Contact)
	assert.Equal(t, "member@example.com", pending[0].Contact.Email)
}

func TestApplyRaffleHighTrafficGoesThroughQueue(t *testing.T) {
	svc, repo := newTestService(t)
	mr, client := newTestRedis(t)
	publisher := &recordingPublisher{}
	svc.SetTrafficPolicy(NewRedisTrafficPolicy(client, svc.keys))
	svc.SetAdmissionLimiter(NewRedisAdmissionLimiter(client, time.Second))
	svc.SetQueueBridge(NewQueueBridge(publisher, testTopology))
	ctx := context.Background()

	event := createTestEvent(t, svc, testEventOptions{eventType: domain.EventTypeRaffle, maxWinners: 3})
	require.NoError(t, mr.Set(svc.keys.HighTrafficPolicy(event.ID), "1"))
	require.NoError(t, mr.Set(svc.keys.RaffleLimit(event.ID), "2"))

	var outcomes []domain.ApplyOutcome
	for member := int64(1); member <= 3; member++ {
		outcome, err := svc.Apply(ctx, event.ID, member, nil)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
	}
	assert.Equal(t, []domain.ApplyOutcome{
		domain.OutcomeAppliedRaffle,
		domain.OutcomeAppliedRaffle,
		domain.OutcomeTryAgain,
	}, outcomes)
	assert.Len(t, publisher.byRoutingKey(testTopology.RaffleRoutingKey), 2)

	pending, err := repo.CountEntriesByStatus(ctx, event.ID, domain.StatusPending)
	require.NoError(t, err)
	assert.Zero(t, pending, "entries are written by the raffle consumer")
}

func TestProcessWinningFallsBackToMinimumWhenStatsAreDown(t *testing.T) {
	repo := store.NewMemoryRepository()
	mr, client := newTestRedis(t)
	keys := NewKeyspace("test")
	rewards, err := NewRewardAllocator(nil, DefaultRewardStrategies(NewRedisRewardStats(client, keys), nil, nil)...)
	require.NoError(t, err)
	svc := NewService(repo, rewards, keys, nil)
	svc.now = func() time.Time { return testNow }

	event := createTestEvent(t, svc, testEventOptions{stock: 3, policy: targetPolicy(0)})
	ctx := context.Background()

	result, err := svc.ProcessWinning(ctx, event.ID, 1)
	require.NoError(t, err)
	require.True(t, result.Won())
	assert.Equal(t, int64(300), result.Entry.RewardAmount, "first payout is the target")

	mr.Close()
	result, err = svc.ProcessWinning(ctx, event.ID, 2)
	require.NoError(t, err)
	require.True(t, result.Won(), "a stats outage never blocks the win")
	assert.Equal(t, int64(100), result.Entry.RewardAmount)

	won, err := repo.CountEntriesByStatus(ctx, event.ID, domain.StatusWin)
	require.NoError(t, err)
	assert.Equal(t, int64(2), won)
}

func TestProcessWinningOutcomes(t *testing.T) {
	svc, _ := newTestService(t)
	event := createTestEvent(t, svc, testEventOptions{stock: 1})
	ctx := context.Background()

	result, err := svc.ProcessWinning(ctx, event.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationWon, result.Outcome)
	assert.Equal(t, domain.DefaultRewardAmount, result.Entry.RewardAmount)

	result, err = svc.ProcessWinning(ctx, event.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationDuplicate, result.Outcome)

	result, err = svc.ProcessWinning(ctx, event.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationExhausted, result.Outcome)
	assert.Nil(t, result.Entry)
}

// lostRaceRepository computes the reward and then reports the outcome a
// concurrent writer or a failed commit would leave behind.
type lostRaceRepository struct {
	*store.MemoryRepository
	outcome domain.AllocationOutcome
	err     error
}

func (r *lostRaceRepository) RecordWin(ctx context.Context, params store.RecordWinParams, reward store.RewardFunc) (domain.AllocationResult, error) {
	if _, err := reward(ctx); err != nil {
		return domain.AllocationResult{}, err
	}
	if r.err != nil {
		return domain.AllocationResult{}, r.err
	}
	return domain.AllocationResult{Outcome: r.outcome}, nil
}

func TestProcessWinningReleasesRewardStatsWhenWinIsNotRecorded(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.AllocationOutcome
		err     error
	}{
		{name: "duplicate insert", outcome: domain.AllocationDuplicate},
		{name: "commit fails", err: errors.New("commit: connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			stats := newMemoryRewardStats()
			rewards, err := NewRewardAllocator(nil, DefaultRewardStrategies(stats, nil, nil)...)
			require.NoError(t, err)
			repo := &lostRaceRepository{MemoryRepository: store.NewMemoryRepository(), outcome: tt.outcome, err: tt.err}
			svc := NewService(repo, rewards, NewKeyspace("test"), nil)
			svc.now = func() time.Time { return testNow }
			event := createTestEvent(t, svc, testEventOptions{stock: 3, policy: targetPolicy(0)})

			result, err := svc.ProcessWinning(ctx, event.ID, 1)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.outcome, result.Outcome)
			}

			sum, count, _ := stats.Snapshot(ctx, event.ID)
			assert.Zero(t, sum)
			assert.Zero(t, count)
		})
	}
}

func TestProcessWinningKeepsRewardStatsOfRecordedWins(t *testing.T) {
	ctx := context.Background()
	stats := newMemoryRewardStats()
	rewards, err := NewRewardAllocator(nil, DefaultRewardStrategies(stats, nil, nil)...)
	require.NoError(t, err)
	svc := NewService(store.NewMemoryRepository(), rewards, NewKeyspace("test"), nil)
	svc.now = func() time.Time { return testNow }
	event := createTestEvent(t, svc, testEventOptions{stock: 3, policy: targetPolicy(0)})

	result, err := svc.ProcessWinning(ctx, event.ID, 1)
	require.NoError(t, err)
	require.True(t, result.Won())

	result, err = svc.ProcessWinning(ctx, event.ID, 1)
	require.NoError(t, err)
	require.Equal(t, domain.AllocationDuplicate, result.Outcome)

	sum, count, _ := stats.Snapshot(ctx, event.ID)
	assert.Equal(t, int64(300), sum)
	assert.Equal(t, int64(1), count)
}
