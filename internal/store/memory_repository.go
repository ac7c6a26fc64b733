package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/transfa/event-service/internal/domain"
)

type stockKey struct {
	eventID int64
	option  string
}

type entryKey struct {
	eventID  int64
	memberID int64
}

// MemoryRepository keeps all state in process. It honours the same atomicity
// contracts as PostgresRepository and backs STORE_DRIVER=memory and tests.
type MemoryRepository struct {
	mu  sync.Mutex
	now func() time.Time

	nextEventID         int64
	nextEntryID         int64
	nextMissionID       int64
	nextMemberMissionID int64

	events         map[int64]*domain.Event
	drawLocks      map[string]chan struct{}
	stocks         map[stockKey]int64
	policies       map[int64]domain.RewardPolicy
	entries        map[int64]*domain.Entry
	entryOrder     []int64
	entryByMember  map[entryKey]int64
	missions       map[int64]domain.Mission
	memberMissions map[int64]*domain.MemberMission
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:            time.Now,
		events:         make(map[int64]*domain.Event),
		drawLocks:      make(map[string]chan struct{}),
		stocks:         make(map[stockKey]int64),
		policies:       make(map[int64]domain.RewardPolicy),
		entries:        make(map[int64]*domain.Entry),
		entryByMember:  make(map[entryKey]int64),
		missions:       make(map[int64]domain.Mission),
		memberMissions: make(map[int64]*domain.MemberMission),
	}
}

func cloneEntry(e *domain.Entry) *domain.Entry {
	out := *e
	if e.Contact != nil {
		contact := *e.Contact
		out.Contact = &contact
	}
	return &out
}

func (m *MemoryRepository) CreateEvent(ctx context.Context, params CreateEventParams) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEventID++
	event := params.Event
	event.ID = m.nextEventID
	event.CreatedAt = m.now()
	event.DeletedAt = nil

	m.events[event.ID] = &event
	m.drawLocks[domain.DrawLockKey(event.ID)] = make(chan struct{}, 1)
	m.stocks[stockKey{event.ID, domain.DefaultStockOption}] = params.InitialStock
	if params.RewardPolicy != nil {
		policy := *params.RewardPolicy
		policy.EventID = event.ID
		m.policies[event.ID] = policy
	}

	out := event
	return &out, nil
}

func (m *MemoryRepository) FindEventByID(ctx context.Context, eventID int64) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	out := *event
	return &out, nil
}

func (m *MemoryRepository) SoftDeleteEvent(ctx context.Context, eventID int64, deletedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[eventID]
	if !ok {
		return 0, ErrEventNotFound
	}
	if event.DeletedAt == nil {
		at := deletedAt
		event.DeletedAt = &at
	}

	var erased int64
	for _, entry := range m.entries {
		if entry.EventID == eventID && entry.Contact != nil {
			entry.ClearContact()
			erased++
		}
	}
	return erased, nil
}

func (m *MemoryRepository) ListRaffleEventsDueForDraw(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []domain.Event
	for _, event := range m.events {
		if event.Type != domain.EventTypeRaffle || event.IsDeleted() || event.EndsAt.After(now) {
			continue
		}
		if m.countLocked(event.ID, domain.StatusWin) >= int64(event.MaxWinners) {
			continue
		}
		if m.countLocked(event.ID, domain.StatusPending) == 0 {
			continue
		}
		due = append(due, *event)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].EndsAt.Equal(due[j].EndsAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].EndsAt.Before(due[j].EndsAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryRepository) FindStock(ctx context.Context, eventID int64, option string) (*domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	option = domain.NormalizeStockOption(option)
	remaining, ok := m.stocks[stockKey{eventID, option}]
	if !ok {
		return nil, ErrStockNotFound
	}
	return &domain.Stock{EventID: eventID, Option: option, Remaining: remaining}, nil
}

func (m *MemoryRepository) DecrementStock(ctx context.Context, eventID int64, option string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementLocked(eventID, option), nil
}

func (m *MemoryRepository) decrementLocked(eventID int64, option string) int64 {
	key := stockKey{eventID, domain.NormalizeStockOption(option)}
	if m.stocks[key] <= 0 {
		return 0
	}
	m.stocks[key]--
	return 1
}

func (m *MemoryRepository) ReplenishStock(ctx context.Context, eventID int64, option string, count int64) (*domain.Stock, error) {
	if count <= 0 {
		return nil, domain.ErrInvalidReplenishCount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[eventID]; !ok {
		return nil, ErrEventNotFound
	}
	key := stockKey{eventID, domain.NormalizeStockOption(option)}
	m.stocks[key] += count
	return &domain.Stock{EventID: eventID, Option: key.option, Remaining: m.stocks[key]}, nil
}

func (m *MemoryRepository) FindRewardPolicy(ctx context.Context, eventID int64) (*domain.RewardPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy, ok := m.policies[eventID]
	if !ok {
		return nil, ErrRewardPolicyNotFound
	}
	return &policy, nil
}

func (m *MemoryRepository) EntryExists(ctx context.Context, eventID, memberID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entryByMember[entryKey{eventID, memberID}]
	return ok, nil
}

func (m *MemoryRepository) insertLocked(entry *domain.Entry) bool {
	key := entryKey{entry.EventID, entry.MemberID}
	if _, ok := m.entryByMember[key]; ok {
		return false
	}
	m.nextEntryID++
	entry.ID = m.nextEntryID
	entry.CreatedAt = m.now()
	m.entries[entry.ID] = cloneEntry(entry)
	m.entryOrder = append(m.entryOrder, entry.ID)
	m.entryByMember[key] = entry.ID
	return true
}

func (m *MemoryRepository) CreatePendingEntry(ctx context.Context, entry *domain.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Status = domain.StatusPending
	return m.insertLocked(entry), nil
}

// RecordWin holds the repository lock across the whole allocation, which makes
// the check, decrement, reward and insert one indivisible step.
func (m *MemoryRepository) RecordWin(ctx context.Context, params RecordWinParams, reward RewardFunc) (domain.AllocationResult, error) {
	entry, err := domain.NewPendingEntry(params.EventID, params.MemberID, nil)
	if err != nil {
		return domain.AllocationResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entryByMember[entryKey{params.EventID, params.MemberID}]; ok {
		return domain.AllocationResult{Outcome: domain.AllocationDuplicate}, nil
	}

	key := stockKey{params.EventID, domain.NormalizeStockOption(params.Option)}
	if m.stocks[key] <= 0 {
		return domain.AllocationResult{Outcome: domain.AllocationExhausted}, nil
	}

	amount, err := reward(ctx)
	if err != nil {
		return domain.AllocationResult{}, fmt.Errorf("compute reward: %w", err)
	}
	if err := entry.AssignWinner(amount); err != nil {
		return domain.AllocationResult{}, err
	}

	m.stocks[key]--
	m.insertLocked(entry)
	return domain.AllocationResult{Outcome: domain.AllocationWon, Entry: entry}, nil
}

func (m *MemoryRepository) countLocked(eventID int64, status domain.WinningStatus) int64 {
	var count int64
	for _, entry := range m.entries {
		if entry.EventID == eventID && entry.Status == status {
			count++
		}
	}
	return count
}

func (m *MemoryRepository) CountEntriesByStatus(ctx context.Context, eventID int64, status domain.WinningStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(eventID, status), nil
}

func (m *MemoryRepository) ListEntryIDsByStatus(ctx context.Context, eventID int64, status domain.WinningStatus, afterID int64, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := sort.Search(len(m.entryOrder), func(i int) bool { return m.entryOrder[i] > afterID })
	var ids []int64
	for _, id := range m.entryOrder[start:] {
		if limit > 0 && len(ids) >= limit {
			break
		}
		entry := m.entries[id]
		if entry.EventID == eventID && entry.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryRepository) MarkEntriesWon(ctx context.Context, entryIDs []int64) (int64, error) {
	return m.resolvePending(entryIDs, func(e *domain.Entry) error { return e.AssignWinner(0) })
}

func (m *MemoryRepository) MarkEntriesLost(ctx context.Context, entryIDs []int64) (int64, error) {
	return m.resolvePending(entryIDs, (*domain.Entry).AssignLoser)
}

func (m *MemoryRepository) resolvePending(entryIDs []int64, transition func(*domain.Entry) error) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed int64
	for _, id := range entryIDs {
		entry, ok := m.entries[id]
		if !ok || entry.Status != domain.StatusPending {
			continue
		}
		if err := transition(entry); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (m *MemoryRepository) ListEntriesByStatus(ctx context.Context, eventID int64, status domain.WinningStatus, limit, offset int) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Entry
	skipped := 0
	for _, id := range m.entryOrder {
		entry := m.entries[id]
		if entry.EventID != eventID || entry.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *cloneEntry(entry))
	}
	return out, nil
}

// WithDrawLock blocks until the event's lock token is free or ctx is done.
func (m *MemoryRepository) WithDrawLock(ctx context.Context, eventID int64, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	token, ok := m.drawLocks[domain.DrawLockKey(eventID)]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDrawLockNotFound, domain.DrawLockKey(eventID))
	}

	select {
	case token <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire draw lock: %w", ctx.Err())
	}
	defer func() { <-token }()

	return fn(ctx)
}

func (m *MemoryRepository) CreateMission(ctx context.Context, mission *domain.Mission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[mission.EventID]; !ok {
		return fmt.Errorf("insert mission: %w", ErrEventNotFound)
	}
	m.nextMissionID++
	mission.ID = m.nextMissionID
	m.missions[mission.ID] = *mission
	return nil
}

func (m *MemoryRepository) EnrollMemberMission(ctx context.Context, memberID, missionID int64) (*domain.MemberMission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mission, ok := m.missions[missionID]
	if !ok {
		return nil, ErrMissionNotFound
	}
	for _, mm := range m.memberMissions {
		if mm.MemberID == memberID && mm.Mission.ID == missionID {
			return nil, ErrMemberAlreadyEnrolled
		}
	}
	m.nextMemberMissionID++
	mm := &domain.MemberMission{ID: m.nextMemberMissionID, MemberID: memberID, Mission: mission}
	m.memberMissions[mm.ID] = mm
	out := *mm
	return &out, nil
}

// UpdateMissionProgress evaluates copies and only writes them back when every
// evaluation succeeded.
func (m *MemoryRepository) UpdateMissionProgress(
	ctx context.Context,
	memberID int64,
	missionType domain.MissionType,
	evaluate func(*domain.MemberMission) (bool, error),
) ([]domain.MemberMission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0)
	for id, mm := range m.memberMissions {
		if mm.MemberID == memberID && mm.Mission.Type == missionType && !mm.Completed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	updated := make([]domain.MemberMission, 0, len(ids))
	var completed []domain.MemberMission
	for _, id := range ids {
		mm := *m.memberMissions[id]
		done, err := evaluate(&mm)
		if err != nil {
			return nil, err
		}
		updated = append(updated, mm)
		if done {
			completed = append(completed, mm)
		}
	}
	for i := range updated {
		mm := updated[i]
		m.memberMissions[mm.ID] = &mm
	}
	return completed, nil
}
