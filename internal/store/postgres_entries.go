package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/transfa/event-service/internal/domain"
)

func contactColumns(c *domain.ApplicantContact) (phone, email, address *string) {
	if c.IsEmpty() {
		return nil, nil, nil
	}
	optional := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	return optional(c.Phone), optional(c.Email), optional(c.Address)
}

func (r *PostgresRepository) EntryExists(ctx context.Context, eventID, memberID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM event_entries WHERE event_id = $1 AND member_id = $2)",
		eventID, memberID,
	).Scan(&exists)
	return exists, err
}

// CreatePendingEntry inserts a PENDING entry; duplicates are ignored.
func (r *PostgresRepository) CreatePendingEntry(ctx context.Context, entry *domain.Entry) (bool, error) {
	phone, email, address := contactColumns(entry.Contact)
	err := r.db.QueryRow(ctx, `
		INSERT INTO event_entries (event_id, member_id, status, contact_phone, contact_email, contact_address)
		VALUES ($1, $2, 'PENDING', $3, $4, $5)
		ON CONFLICT (event_id, member_id) DO NOTHING
		RETURNING id, created_at
	`, entry.EventID, entry.MemberID, phone, email, address).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RecordWin runs the duplicate check, the conditional stock decrement, the
// reward computation and the WIN insert in one transaction. A duplicate that
// slips past the check is caught by the unique key and rolls the decrement back.
func (r *PostgresRepository) RecordWin(ctx context.Context, params RecordWinParams, reward RewardFunc) (domain.AllocationResult, error) {
	entry, err := domain.NewPendingEntry(params.EventID, params.MemberID, nil)
	if err != nil {
		return domain.AllocationResult{}, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.AllocationResult{}, err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM event_entries WHERE event_id = $1 AND member_id = $2)",
		params.EventID, params.MemberID,
	).Scan(&exists); err != nil {
		return domain.AllocationResult{}, err
	}
	if exists {
		return domain.AllocationResult{Outcome: domain.AllocationDuplicate}, nil
	}

	tag, err := tx.Exec(ctx, decrementStockSQL, params.EventID, domain.NormalizeStockOption(params.Option))
	if err != nil {
		return domain.AllocationResult{}, fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.AllocationResult{Outcome: domain.AllocationExhausted}, nil
	}

	amount, err := reward(ctx)
	if err != nil {
		return domain.AllocationResult{}, fmt.Errorf("compute reward: %w", err)
	}
	if err := entry.AssignWinner(amount); err != nil {
		return domain.AllocationResult{}, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO event_entries (event_id, member_id, status, reward_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, member_id) DO NOTHING
		RETURNING id, created_at
	`, entry.EventID, entry.MemberID, string(entry.Status), entry.RewardAmount).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AllocationResult{Outcome: domain.AllocationDuplicate}, nil
		}
		return domain.AllocationResult{}, fmt.Errorf("insert win: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AllocationResult{}, err
	}
	return domain.AllocationResult{Outcome: domain.AllocationWon, Entry: entry}, nil
}

func (r *PostgresRepository) CountEntriesByStatus(ctx context.Context, eventID int64, status domain.WinningStatus) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM event_entries WHERE event_id = $1 AND status = $2",
		eventID, string(status),
	).Scan(&count)
	return count, err
}

// ListEntryIDsByStatus uses keyset pagination on the primary key so pages stay
// cheap however deep the scan goes.
func (r *PostgresRepository) ListEntryIDsByStatus(ctx context.Context, eventID int64, status domain.WinningStatus, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id
		FROM event_entries
		WHERE event_id = $1 AND status = $2 AND id > $3
		ORDER BY id
		LIMIT $4
	`, eventID, string(status), afterID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *PostgresRepository) MarkEntriesWon(ctx context.Context, entryIDs []int64) (int64, error) {
	return r.resolvePending(ctx, entryIDs, domain.StatusWin)
}

func (r *PostgresRepository) MarkEntriesLost(ctx context.Context, entryIDs []int64) (int64, error) {
	return r.resolvePending(ctx, entryIDs, domain.StatusLose)
}

// resolvePending is one bulk conditional update; rows already resolved are
// left alone.
func (r *PostgresRepository) resolvePending(ctx context.Context, entryIDs []int64, status domain.WinningStatus) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE event_entries
		SET status = $2, updated_at = NOW()
		WHERE id = ANY($1) AND status = 'PENDING'
	`, entryIDs, string(status))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ListEntriesByStatus(ctx context.Context, eventID int64, status domain.WinningStatus, limit, offset int) ([]domain.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_id, member_id, status, reward_amount, contact_phone, contact_email, contact_address, created_at
		FROM event_entries
		WHERE event_id = $1 AND status = $2
		ORDER BY id
		LIMIT $3 OFFSET $4
	`, eventID, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		var entry domain.Entry
		var entryStatus string
		var phone, email, address *string
		if err := rows.Scan(
			&entry.ID,
			&entry.EventID,
			&entry.MemberID,
			&entryStatus,
			&entry.RewardAmount,
			&phone,
			&email,
			&address,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.Status = domain.WinningStatus(entryStatus)
		if phone != nil || email != nil || address != nil {
			entry.Contact = &domain.ApplicantContact{}
			if phone != nil {
				entry.Contact.Phone = *phone
			}
			if email != nil {
				entry.Contact.Email = *email
			}
			if address != nil {
				entry.Contact.Address = *address
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
