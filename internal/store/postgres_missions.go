package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/transfa/event-service/internal/domain"
)

func (r *PostgresRepository) CreateMission(ctx context.Context, mission *domain.Mission) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO missions (event_id, title, mission_type, goal_value)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, mission.EventID, mission.Title, string(mission.Type), mission.GoalValue).Scan(&mission.ID)
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

func (r *PostgresRepository) EnrollMemberMission(ctx context.Context, memberID, missionID int64) (*domain.MemberMission, error) {
	mm := domain.MemberMission{MemberID: memberID}
	var missionType string
	err := r.db.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO member_missions (member_id, mission_id)
			SELECT $1::bigint, id FROM missions WHERE id = $2
			RETURNING id, mission_id
		)
		SELECT i.id, m.id, m.event_id, m.title, m.mission_type, m.goal_value
		FROM inserted i
		JOIN missions m ON m.id = i.mission_id
	`, memberID, missionID).Scan(
		&mm.ID,
		&mm.Mission.ID,
		&mm.Mission.EventID,
		&mm.Mission.Title,
		&missionType,
		&mm.Mission.GoalValue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMissionNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrMemberAlreadyEnrolled
		}
		return nil, err
	}
	mm.Mission.Type = domain.MissionType(missionType)
	return &mm, nil
}

// UpdateMissionProgress locks the member's incomplete missions of one type,
// evaluates them and writes the changes back before committing.
func (r *PostgresRepository) UpdateMissionProgress(
	ctx context.Context,
	memberID int64,
	missionType domain.MissionType,
	evaluate func(*domain.MemberMission) (bool, error),
) ([]domain.MemberMission, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT mm.id, mm.current_value, mm.completed, m.id, m.event_id, m.title, m.mission_type, m.goal_value
		FROM member_missions mm
		JOIN missions m ON m.id = mm.mission_id
		WHERE mm.member_id = $1 AND m.mission_type = $2 AND mm.completed = FALSE
		ORDER BY mm.id
		FOR UPDATE OF mm
	`, memberID, string(missionType))
	if err != nil {
		return nil, err
	}
	var active []domain.MemberMission
	for rows.Next() {
		mm := domain.MemberMission{MemberID: memberID}
		var typ string
		if err := rows.Scan(
			&mm.ID,
			&mm.CurrentValue,
			&mm.Completed,
			&mm.Mission.ID,
			&mm.Mission.EventID,
			&mm.Mission.Title,
			&typ,
			&mm.Mission.GoalValue,
		); err != nil {
			rows.Close()
			return nil, err
		}
		mm.Mission.Type = domain.MissionType(typ)
		active = append(active, mm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var completed []domain.MemberMission
	for i := range active {
		mm := &active[i]
		done, err := evaluate(mm)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE member_missions SET current_value = $2, completed = $3, updated_at = NOW() WHERE id = $1",
			mm.ID, mm.CurrentValue, mm.Completed,
		); err != nil {
			return nil, fmt.Errorf("update member mission %d: %w", mm.ID, err)
		}
		if done {
			completed = append(completed, *mm)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return completed, nil
}
