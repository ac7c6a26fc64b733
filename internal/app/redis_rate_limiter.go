package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AdmissionLimiter gates work per key within a fixed window.
type AdmissionLimiter interface {
	// Allow counts one attempt against key and reports whether the count is
	// still within the ceiling stored at limitKey (defaultLimit when absent or
	// malformed).
	Allow(ctx context.Context, key, limitKey string, defaultLimit int) (bool, error)
}

// The counter and the ceiling are read in one round trip; PEXPIRE only runs
// on the first increment of a window.
var admissionScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local limit = redis.call("GET", KEYS[2])
return {current, limit}
`)

// RedisAdmissionLimiter is a fixed-window counter shared by every instance.
type RedisAdmissionLimiter struct {
	client redis.UniversalClient
	window time.Duration
}

func NewRedisAdmissionLimiter(client redis.UniversalClient, window time.Duration) *RedisAdmissionLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &RedisAdmissionLimiter{client: client, window: window}
}

func (r *RedisAdmissionLimiter) Allow(ctx context.Context, key, limitKey string, defaultLimit int) (bool, error) {
	rawResult, err := admissionScript.Run(ctx, r.client, []string{key, limitKey}, r.window.Milliseconds()).Result()
	if err != nil {
		return false, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) == 0 {
		return false, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	current, ok := values[0].(int64)
	if !ok {
		return false, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	limit := int64(defaultLimit)
	if len(values) > 1 {
		limit = parseLimit(values[1], defaultLimit)
	}
	return current <= limit, nil
}

func parseLimit(raw interface{}, defaultLimit int) int64 {
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case int64:
		if v >= 0 {
			return v
		}
		return int64(defaultLimit)
	default:
		return int64(defaultLimit)
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || parsed < 0 {
		return int64(defaultLimit)
	}
	return parsed
}
