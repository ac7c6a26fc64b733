package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MissionType discriminates how member activity advances a mission.
type MissionType string

const (
	MissionStepCount MissionType = "STEP_COUNT"
)

var ErrInvalidMission = errors.New("invalid mission")

// ParseMissionType normalizes user supplied mission types. Unknown types are
// accepted here and rejected by the strategy registry.
func ParseMissionType(raw string) MissionType {
	return MissionType(strings.ToUpper(strings.TrimSpace(raw)))
}

// Mission is a goal that, once reached, enters the member into an event.
type Mission struct {
	ID        int64       `json:"id"`
	EventID   int64       `json:"event_id"`
	Title     string      `json:"title"`
	Type      MissionType `json:"type"`
	GoalValue int64       `json:"goal_value"`
}

func (m *Mission) Validate() error {
	if m.EventID <= 0 {
		return fmt.Errorf("%w: event id is required", ErrInvalidMission)
	}
	if strings.TrimSpace(string(m.Type)) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidMission)
	}
	if m.GoalValue <= 0 {
		return fmt.Errorf("%w: goal must be positive", ErrInvalidMission)
	}
	return nil
}

// MemberMission tracks one member's progress towards a mission.
type MemberMission struct {
	ID           int64   `json:"id"`
	MemberID     int64   `json:"member_id"`
	Mission      Mission `json:"mission"`
	CurrentValue int64   `json:"current_value"`
	Completed    bool    `json:"completed"`
}

// UpdateProgress records the latest progress value. It returns true only on
// the call that completes the mission; completed missions no longer change.
func (m *MemberMission) UpdateProgress(value int64) bool {
	if m.Completed {
		return false
	}
	if value > m.CurrentValue {
		m.CurrentValue = value
	}
	if m.CurrentValue >= m.Mission.GoalValue {
		m.Completed = true
		return true
	}
	return false
}
