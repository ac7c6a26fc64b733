package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/event-service/internal/domain"
	"go.uber.org/zap"
)

var ErrUnsupportedMissionType = errors.New("unsupported mission type")

// MissionStrategy decides how an activity value advances a member's mission.
type MissionStrategy interface {
	Type() domain.MissionType
	// Evaluate updates mm in place and reports whether this update completed
	// the mission.
	Evaluate(mm *domain.MemberMission, value int64) bool
}

// StepCountStrategy treats the value as the member's running step total.
type StepCountStrategy struct{}

func (StepCountStrategy) Type() domain.MissionType { return domain.MissionStepCount }

func (StepCountStrategy) Evaluate(mm *domain.MemberMission, value int64) bool {
	return mm.UpdateProgress(value)
}

type MissionStrategyRegistry struct {
	strategies map[domain.MissionType]MissionStrategy
}

// NewMissionStrategyRegistry keys strategies by type. Registering a type twice
// is an error.
func NewMissionStrategyRegistry(strategies ...MissionStrategy) (*MissionStrategyRegistry, error) {
	r := &MissionStrategyRegistry{strategies: make(map[domain.MissionType]MissionStrategy, len(strategies))}
	for _, strategy := range strategies {
		if _, dup := r.strategies[strategy.Type()]; dup {
			return nil, fmt.Errorf("mission strategy %s registered twice", strategy.Type())
		}
		r.strategies[strategy.Type()] = strategy
	}
	return r, nil
}

func defaultMissionStrategies() *MissionStrategyRegistry {
	return &MissionStrategyRegistry{strategies: map[domain.MissionType]MissionStrategy{
		domain.MissionStepCount: StepCountStrategy{},
	}}
}

func (r *MissionStrategyRegistry) Get(missionType domain.MissionType) (MissionStrategy, error) {
	strategy, ok := r.strategies[missionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMissionType, missionType)
	}
	return strategy, nil
}

// MissionEntry is the application made on behalf of a completed mission.
type MissionEntry struct {
	MissionID int64               `json:"mission_id"`
	EventID   int64               `json:"event_id"`
	Outcome   domain.ApplyOutcome `json:"outcome,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// ProcessMemberActivity advances the member's missions of the given type.
// Progress is committed first; the member is then applied to the event of
// every mission the activity completed. A failed application does not undo
// the progress.
func (s *Service) ProcessMemberActivity(ctx context.Context, memberID int64, missionType domain.MissionType, value int64) ([]MissionEntry, error) {
	strategy, err := s.missions.Get(missionType)
	if err != nil {
		return nil, err
	}

	completed, err := s.repo.UpdateMissionProgress(ctx, memberID, missionType, func(mm *domain.MemberMission) (bool, error) {
		return strategy.Evaluate(mm, value), nil
	})
	if err != nil {
		return nil, fmt.Errorf("update mission progress: %w", err)
	}

	entries := make([]MissionEntry, 0, len(completed))
	for _, mm := range completed {
		entry := MissionEntry{MissionID: mm.Mission.ID, EventID: mm.Mission.EventID}
		outcome, err := s.Apply(ctx, mm.Mission.EventID, memberID, nil)
		if err != nil {
			s.logger.Warn("mission entry failed",
				zap.Int64("member_id", memberID),
				zap.Int64("mission_id", mm.Mission.ID),
				zap.Int64("event_id", mm.Mission.EventID),
				zap.Error(err),
			)
			entry.Error = err.Error()
		} else {
			s.logger.Info("mission completed; member applied",
				zap.Int64("member_id", memberID),
				zap.Int64("mission_id", mm.Mission.ID),
				zap.String("outcome", string(outcome)),
			)
			entry.Outcome = outcome
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Service) CreateMission(ctx context.Context, mission *domain.Mission) error {
	if err := mission.Validate(); err != nil {
		return err
	}
	if _, err := s.missions.Get(mission.Type); err != nil {
		return err
	}
	if err := s.repo.CreateMission(ctx, mission); err != nil {
		return fmt.Errorf("create mission: %w", err)
	}
	return nil
}

func (s *Service) EnrollMember(ctx context.Context, memberID, missionID int64) (*domain.MemberMission, error) {
	if memberID <= 0 {
		return nil, domain.ErrInvalidEntryIdentity
	}
	return s.repo.EnrollMemberMission(ctx, memberID, missionID)
}
