package app

import (
	"context"
)

// Reservoir keeps a uniform random sample of at most k items from a stream
// of unknown length using O(k) memory (Algorithm R).
type Reservoir[T any] struct {
	k     int
	seen  int64
	items []T
	rng   randomSource
}

func NewReservoir[T any](k int, rng randomSource) *Reservoir[T] {
	if rng == nil {
		rng = globalRandom{}
	}
	capacity := k
	if capacity < 0 {
		capacity = 0
	}
	return &Reservoir[T]{k: k, items: make([]T, 0, capacity), rng: rng}
}

// Offer considers the next item of the stream. The i-th item (1-based) past
// the first k replaces a random slot with probability k/i.
func (r *Reservoir[T]) Offer(item T) {
	r.seen++
	if r.k <= 0 {
		return
	}
	if len(r.items) < r.k {
		r.items = append(r.items, item)
		return
	}
	if j := r.rng.Int64N(r.seen); j < int64(r.k) {
		r.items[j] = item
	}
}

// Seen is the number of items offered so far.
func (r *Reservoir[T]) Seen() int64 {
	return r.seen
}

func (r *Reservoir[T]) Items() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// IDPageFunc returns up to limit ids greater than afterID in ascending order.
type IDPageFunc func(ctx context.Context, afterID int64, limit int) ([]int64, error)

// SampleIDs streams every candidate page by page through a reservoir of size
// k. Only one page and the reservoir are held in memory at a time.
func SampleIDs(ctx context.Context, k, pageSize int, next IDPageFunc, rng randomSource) ([]int64, int64, error) {
	reservoir := NewReservoir[int64](k, rng)
	if k <= 0 {
		return nil, 0, nil
	}

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, reservoir.Seen(), err
		}
		page, err := next(ctx, after, pageSize)
		if err != nil {
			return nil, reservoir.Seen(), err
		}
		for _, id := range page {
			reservoir.Offer(id)
		}
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1]
	}
	return reservoir.Items(), reservoir.Seen(), nil
}
