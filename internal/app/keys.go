package app

import (
	"strconv"
	"strings"
)

// Keyspace builds the shared-store keys of the allocation engine under one
// prefix.
type Keyspace struct {
	prefix string
}

func NewKeyspace(prefix string) Keyspace {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "event"
	}
	return Keyspace{prefix: prefix}
}

func (k Keyspace) key(parts ...string) string {
	return k.prefix + ":" + strings.Join(parts, ":")
}

func idPart(eventID int64) string { return strconv.FormatInt(eventID, 10) }

// HighTrafficPolicy flags raffle events whose entries go through the queue.
func (k Keyspace) HighTrafficPolicy(eventID int64) string {
	return k.key("policy", "high-traffic", idPart(eventID))
}

func (k Keyspace) Limit(eventID int64) string       { return k.key("limit", idPart(eventID)) }
func (k Keyspace) RaffleLimit(eventID int64) string { return k.key("limit", "raffle", idPart(eventID)) }

func (k Keyspace) RateCounter(eventID int64) string       { return k.key("rate", idPart(eventID)) }
func (k Keyspace) RaffleRateCounter(eventID int64) string { return k.key("rate", "raffle", idPart(eventID)) }

func (k Keyspace) RewardSum(eventID int64) string   { return k.key("reward", "sum", idPart(eventID)) }
func (k Keyspace) RewardCount(eventID int64) string { return k.key("reward", "count", idPart(eventID)) }
