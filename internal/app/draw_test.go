package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/store"
)

func TestDrawFirstComeSelectsEarliestEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	event := createTestEvent(t, svc, testEventOptions{eventType: domain.EventTypeRaffle, maxWinners: 5})
	addPendingEntries(t, svc, event.ID, 10)

	winners, err := svc.DrawFirstCome(ctx, event.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), winners)

	won, err := svc.ListWinners(ctx, event.ID, 100, 0)
	require.NoError(t, err)
	members := make([]int64, 0, len(won))
	for _, entry := range won {
		members = append(members, entry.MemberID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, members)
}

func TestDrawFirstComeRejectsNonPositiveLimit(t *testing.T) {
	svc, _ := newTestService(t)
	event := createTestEvent(t, svc, testEventOptions{eventType: domain.EventTypeRaffle, maxWinners: 5})

	_, err := svc.DrawFirstCome(context.Background(), event.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidDrawLimit)
}

func TestDrawRandomFillsCapacityAcrossPages(t *testing.T) {
	svc, repo := newTestService(t)
	settings := DefaultSettings()
	settings.DrawPageSize = 700
	settings.CommitChunkSize = 1000
	svc.Configure(settings)

	ctx := context.Background()
	event := createTestEvent(t, svc, testEventOptions{eventType: domain.EventTypeRaffle, maxWinners: 2500})
	addPendingEntries(t, svc, event.ID, 3000)

	winners, err := svc.DrawRandom(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), winners)

	won, err := repo.CountEntriesByStatus(ctx, event.ID, domain.StatusWin)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), won)
	pending, err := repo.CountEntriesByStatus(ctx, event.ID, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(500), pending)

	again, err := svc.DrawRandom(ctx, event.ID)
	require.NoError(t, err)
	assert.Zero(t, again, "a filled draw selects nobody")
}

func TestDrawRandomWithFewerCandidatesThanCapacity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	event := createTestEvent(t, svc, testEventOptions{eventType: domain.EventTypeRaffle, maxWinners: 50})
	addPendingEntries(t, svc, event.ID, 20)

	winners, err := svc.DrawRandom(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), winners)
}

func TestConcurrentRandomDrawsNeverExceedCapacity(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	event := createTestEvent(t, svc, testEventOptions{eventType: domain.EventTypeRaffle, maxWinners: 100})
	addPendingEntries(t, svc, event.ID, 300)

	var total atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			winners, err := svc.DrawRandom(ctx, event.ID)
			assert.NoError(t, err)
			total.Add(winners)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), total.Load())
	won, err := repo.CountEntriesByStatus(ctx, event.ID, domain.StatusWin)
	require.NoError(t, err)
	assert.Equal(t, int64(100), won)
}

func TestDrawRandomRequiresLockRow(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.DrawRandom(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrDrawLockNotFound)
}

func TestCloseDrawResolvesRemainingEntries(t *testing.T) {
	svc, _ := newTestService(t)
	settings := DefaultSettings()
	settings.DrawPageSize = 4
	settings.CommitChunkSize = 3
	svc.Configure(settings)

	ctx := context.Background()
	event := createTestEvent(t, svc, testEventOptions{eventType: domain.EventTypeRaffle, maxWinners: 3})
	addPendingEntries(t, svc, event.ID, 10)

	_, err := svc.DrawFirstCome(ctx, event.ID, 3)
	require.NoError(t, err)

	losers, err := svc.CloseDraw(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), losers)

	summary, err := svc.EventSummary(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSummary{EventID: event.ID, Pending: 0, Won: 3, Lost: 7}, *summary)

	again, err := svc.DrawRandom(ctx, event.ID)
	require.NoError(t, err)
	assert.Zero(t, again)
}
