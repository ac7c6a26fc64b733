package domain

import "time"

// WinnerEvent is published for downstream consumers once a win is durable.
type WinnerEvent struct {
	EventID      int64     `json:"event_id"`
	MemberID     int64     `json:"member_id"`
	EntryID      int64     `json:"entry_id"`
	RewardAmount int64     `json:"reward_amount"`
	OccurredAt   time.Time `json:"occurred_at"`
}
