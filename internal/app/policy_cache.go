package app

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/transfa/event-service/internal/domain"
	"github.com/transfa/event-service/internal/store"
)

// RewardPolicyCache memoizes reward policy reads for the hot allocation path.
// Policies are immutable once an event is running, so a short TTL is enough.
// A missing policy is cached as nil.
type RewardPolicyCache struct {
	repo  store.Repository
	cache *ttlcache.Cache[int64, *domain.RewardPolicy]
}

// NewRewardPolicyCache reads through to repo on every call when ttl is zero.
func NewRewardPolicyCache(repo store.Repository, ttl time.Duration) *RewardPolicyCache {
	c := &RewardPolicyCache{repo: repo}
	if ttl > 0 {
		c.cache = ttlcache.New(
			ttlcache.WithTTL[int64, *domain.RewardPolicy](ttl),
			ttlcache.WithDisableTouchOnHit[int64, *domain.RewardPolicy](),
		)
	}
	return c
}

// Start runs expired-item cleanup until Stop is called.
func (c *RewardPolicyCache) Start() {
	if c.cache != nil {
		go c.cache.Start()
	}
}

func (c *RewardPolicyCache) Stop() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

// Get returns the event's policy, or nil when the event has none.
func (c *RewardPolicyCache) Get(ctx context.Context, eventID int64) (*domain.RewardPolicy, error) {
	if c.cache != nil {
		if item := c.cache.Get(eventID); item != nil {
			return item.Value(), nil
		}
	}

	policy, err := c.repo.FindRewardPolicy(ctx, eventID)
	if err != nil && !errors.Is(err, store.ErrRewardPolicyNotFound) {
		return nil, err
	}
	if errors.Is(err, store.ErrRewardPolicyNotFound) {
		policy = nil
	}
	if c.cache != nil {
		c.cache.Set(eventID, policy, ttlcache.DefaultTTL)
	}
	return policy, nil
}

// Invalidate drops a cached policy, used when an event is deleted.
func (c *RewardPolicyCache) Invalidate(eventID int64) {
	if c.cache != nil {
		c.cache.Delete(eventID)
	}
}
