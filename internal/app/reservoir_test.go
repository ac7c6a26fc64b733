package app

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pagesOf(ids []int64) IDPageFunc {
	return func(ctx context.Context, afterID int64, limit int) ([]int64, error) {
		var page []int64
		for _, id := range ids {
			if id > afterID && len(page) < limit {
				page = append(page, id)
			}
		}
		return page, nil
	}
}

func sequence(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestReservoirSelectionIsUniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1024))
	const (
		n      = 10
		k      = 3
		trials = 30000
	)

	hits := make(map[int]int, n)
	for trial := 0; trial < trials; trial++ {
		r := NewReservoir[int](k, rng)
		for i := 0; i < n; i++ {
			r.Offer(i)
		}
		items := r.Items()
		require.Len(t, items, k)
		for _, item := range items {
			hits[item]++
		}
	}

	expected := float64(trials) * k / n
	for i := 0; i < n; i++ {
		assert.InDelta(t, expected, float64(hits[i]), 0.05*expected, "item %d", i)
	}
}

func TestReservoirEdgeCases(t *testing.T) {
	r := NewReservoir[int64](5, nil)
	for _, id := range []int64{1, 2, 3} {
		r.Offer(id)
	}
	assert.ElementsMatch(t, []int64{1, 2, 3}, r.Items(), "fewer candidates than k selects all")
	assert.Equal(t, int64(3), r.Seen())

	empty := NewReservoir[int64](0, nil)
	empty.Offer(1)
	assert.Empty(t, empty.Items())

	negative := NewReservoir[int64](-2, nil)
	negative.Offer(1)
	assert.Empty(t, negative.Items())
}

func TestSampleIDsStreamsAllPages(t *testing.T) {
	ids := sequence(2500)
	var pages int
	next := func(ctx context.Context, afterID int64, limit int) ([]int64, error) {
		pages++
		return pagesOf(ids)(ctx, afterID, limit)
	}

	sample, seen, err := SampleIDs(context.Background(), 100, 1000, next, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	assert.Equal(t, int64(2500), seen)
	assert.Len(t, sample, 100)
	assert.Equal(t, 3, pages)

	unique := make(map[int64]struct{}, len(sample))
	for _, id := range sample {
		unique[id] = struct{}{}
		assert.True(t, id >= 1 && id <= 2500)
	}
	assert.Len(t, unique, 100)
}

func TestSampleIDsWithNonPositiveK(t *testing.T) {
	called := false
	next := func(ctx context.Context, afterID int64, limit int) ([]int64, error) {
		called = true
		return nil, nil
	}
	sample, seen, err := SampleIDs(context.Background(), 0, 10, next, nil)
	require.NoError(t, err)
	assert.Empty(t, sample)
	assert.Zero(t, seen)
	assert.False(t, called)
}

func TestSampleIDsPropagatesPageErrors(t *testing.T) {
	boom := errors.New("read failed")
	next := func(ctx context.Context, afterID int64, limit int) ([]int64, error) {
		return nil, boom
	}
	_, _, err := SampleIDs(context.Background(), 5, 10, next, nil)
	assert.ErrorIs(t, err, boom)
}

func TestPartitionedCommitterChunksWrites(t *testing.T) {
	var chunks [][]int64
	committer := NewPartitionedCommitter(1000, func(ctx context.Context, ids []int64) (int64, error) {
		chunks = append(chunks, ids)
		return int64(len(ids)), nil
	})

	total, err := committer.Commit(context.Background(), sequence(2500))
	require.NoError(t, err)
	assert.Equal(t, int64(2500), total)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 500)
	assert.Equal(t, int64(2001), chunks[2][0])
}

func TestPartitionedCommitterKeepsEarlierChunksOnFailure(t *testing.T) {
	boom := errors.New("deadlock detected")
	calls := 0
	committer := NewPartitionedCommitter(2, func(ctx context.Context, ids []int64) (int64, error) {
		calls++
		if calls == 2 {
			return 0, boom
		}
		return int64(len(ids)), nil
	})

	total, err := committer.Commit(context.Background(), sequence(5))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, 2, calls)
}

func TestPartitionedCommitterWithNoIDs(t *testing.T) {
	committer := NewPartitionedCommitter(0, func(ctx context.Context, ids []int64) (int64, error) {
		t.Fatal("update must not run without ids")
		return 0, nil
	})
	total, err := committer.Commit(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, total)
}
