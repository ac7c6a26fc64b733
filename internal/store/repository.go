/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the event-service performs. The allocation engine depends only on this
 * interface; PostgreSQL backs it in production and an in-memory implementation
 * backs local runs and tests.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/event-service/internal/domain"
)

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrDrawLockNotFound      = errors.New("draw lock not found")
	ErrStockNotFound         = errors.New("stock not found")
	ErrRewardPolicyNotFound  = errors.New("reward policy not found")
	ErrMissionNotFound       = errors.New("mission not found")
	ErrMemberAlreadyEnrolled = errors.New("member already enrolled in mission")
)

// RewardFunc computes the payout of a win. It runs inside the allocation's
// unit of work, after the stock unit has been claimed. Side effects it has
// outside that unit of work are the caller's to undo when RecordWin does not
// report a win.
type RewardFunc func(ctx context.Context) (int64, error)

// CreateEventParams carries everything created together with an event.
type CreateEventParams struct {
	Event        domain.Event
	InitialStock int64
	RewardPolicy *domain.RewardPolicy
}

// RecordWinParams identifies the applicant and stock option of an allocation.
type RecordWinParams struct {
	EventID  int64
	MemberID int64
	Option   string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Event methods
	// CreateEvent stores the event with its draw lock row, default stock row
	// and optional reward policy as one unit.
	CreateEvent(ctx context.Context, params CreateEventParams) (*domain.Event, error)
	FindEventByID(ctx context.Context, eventID int64) (*domain.Event, error)
	// SoftDeleteEvent marks the event deleted and erases the contact payload of
	// its entries, returning how many entries were erased.
	SoftDeleteEvent(ctx context.Context, eventID int64, deletedAt time.Time) (int64, error)
	// ListRaffleEventsDueForDraw returns closed, undeleted raffle events that
	// still have fewer winners than their capacity.
	ListRaffleEventsDueForDraw(ctx context.Context, now time.Time, limit int) ([]domain.Event, error)

	// Stock ledger methods
	FindStock(ctx context.Context, eventID int64, option string) (*domain.Stock, error)
	// DecrementStock consumes one unit if any remains. The returned count is 1
	// when the unit was claimed and 0 when the stock is exhausted.
	DecrementStock(ctx context.Context, eventID int64, option string) (int64, error)
	ReplenishStock(ctx context.Context, eventID int64, option string, count int64) (*domain.Stock, error)

	FindRewardPolicy(ctx context.Context, eventID int64) (*domain.RewardPolicy, error)

	// Entry methods
	EntryExists(ctx context.Context, eventID, memberID int64) (bool, error)
	// CreatePendingEntry inserts a PENDING entry. It reports false without error
	// when the member already has an entry for the event.
	CreatePendingEntry(ctx context.Context, entry *domain.Entry) (bool, error)
	// RecordWin claims one stock unit, computes the reward and records a WIN
	// entry as a single atomic unit.
	RecordWin(ctx context.Context, params RecordWinParams, reward RewardFunc) (domain.AllocationResult, error)
	CountEntriesByStatus(ctx context.Context, eventID int64, status domain.WinningStatus) (int64, error)
	// ListEntryIDsByStatus pages entry ids in ascending id order, starting after
	// afterID.
	ListEntryIDsByStatus(ctx context.Context, eventID int64, status domain.WinningStatus, afterID int64, limit int) ([]int64, error)
	// MarkEntriesWon moves the given entries to WIN, skipping any that are no
	// longer PENDING, and returns the number of rows changed.
	MarkEntriesWon(ctx context.Context, entryIDs []int64) (int64, error)
	MarkEntriesLost(ctx context.Context, entryIDs []int64) (int64, error)
	ListEntriesByStatus(ctx context.Context, eventID int64, status domain.WinningStatus, limit, offset int) ([]domain.Entry, error)

	// WithDrawLock holds the event's exclusive draw lock while fn runs.
	WithDrawLock(ctx context.Context, eventID int64, fn func(ctx context.Context) error) error

	// Mission methods
	CreateMission(ctx context.Context, mission *domain.Mission) error
	EnrollMemberMission(ctx context.Context, memberID, missionID int64) (*domain.MemberMission, error)
	// UpdateMissionProgress applies evaluate to every incomplete mission of the
	// given type held by the member, persisting the results as one unit. It
	// returns the missions that evaluate reported as newly completed.
	UpdateMissionProgress(ctx context.Context, memberID int64, missionType domain.MissionType, evaluate func(*domain.MemberMission) (bool, error)) ([]domain.MemberMission, error)
}
