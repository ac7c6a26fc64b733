package app

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// TrafficPolicy tells whether raffle entries of an event must go through the
// queue instead of being written directly.
type TrafficPolicy interface {
	IsHighTraffic(ctx context.Context, eventID int64) (bool, error)
}

type RedisTrafficPolicy struct {
	client redis.UniversalClient
	keys   Keyspace
}

func NewRedisTrafficPolicy(client redis.UniversalClient, keys Keyspace) *RedisTrafficPolicy {
	return &RedisTrafficPolicy{client: client, keys: keys}
}

// IsHighTraffic treats any value other than empty, "0" or "false" as set.
func (p *RedisTrafficPolicy) IsHighTraffic(ctx context.Context, eventID int64) (bool, error) {
	value, err := p.client.Get(ctx, p.keys.HighTrafficPolicy(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "off", "no":
		return false, nil
	default:
		return true, nil
	}
}
