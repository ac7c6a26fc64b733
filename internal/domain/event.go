/**
 * @description
 * This file defines the core event model managed by the event-service. An event
 * owns a finite stock of wins, a draw lock row and a reward policy; entries are
 * resolved against it either immediately (first-come) or in a deferred batch
 * draw (raffle).
 */

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType selects how entries of an event are resolved into winners.
type EventType string

const (
	EventTypeFirstCome EventType = "FIRST_COME"
	EventTypeRaffle    EventType = "RAFFLE"
)

var (
	ErrInvalidEventType   = errors.New("invalid event type")
	ErrInvalidEventPeriod = errors.New("event period must end after it starts")
	ErrInvalidMaxWinners  = errors.New("max winners must not be negative")
	ErrEventTitleRequired = errors.New("event title is required")
)

// ParseEventType normalizes user supplied event types.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(strings.ToUpper(strings.TrimSpace(raw))) {
	case EventTypeFirstCome:
		return EventTypeFirstCome, nil
	case EventTypeRaffle:
		return EventTypeRaffle, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
	}
}

// Event is a single promotion whose wins are allocated by this service.
type Event struct {
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content,omitempty"`
	Type       EventType  `json:"type"`
	StartsAt   time.Time  `json:"starts_at"`
	EndsAt     time.Time  `json:"ends_at"`
	MaxWinners int        `json:"max_winners"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Validate checks the invariants an event must hold before it is stored.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEventTitleRequired
	}
	if e.Type != EventTypeFirstCome && e.Type != EventTypeRaffle {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.Type)
	}
	if e.MaxWinners < 0 {
		return ErrInvalidMaxWinners
	}
	if e.StartsAt.IsZero() || e.EndsAt.IsZero() || !e.EndsAt.After(e.StartsAt) {
		return ErrInvalidEventPeriod
	}
	return nil
}

// IsDeleted reports whether the event was soft deleted.
func (e *Event) IsDeleted() bool {
	return e.DeletedAt != nil
}

// IsOpenAt reports whether applications are accepted at the given instant.
// The period is inclusive of its start and exclusive of its end.
func (e *Event) IsOpenAt(now time.Time) bool {
	if e.IsDeleted() {
		return false
	}
	return !now.Before(e.StartsAt) && now.Before(e.EndsAt)
}

// NeededWinnerCount returns how many more winners a random draw must select
// given the number of winners already recorded. It never goes below zero.
func (e *Event) NeededWinnerCount(currentWinners int64) int {
	needed := int64(e.MaxWinners) - currentWinners
	if needed <= 0 {
		return 0
	}
	return int(needed)
}

// DrawLockKey is the identity of the lock row that serializes batch draws
// for one event.
func DrawLockKey(eventID int64) string {
	return fmt.Sprintf("EVENT_DRAW_%d", eventID)
}
