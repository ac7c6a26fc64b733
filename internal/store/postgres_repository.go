/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface for
 * events, their stock ledger, reward policies and draw locks. Entry and mission
 * queries live in sibling files.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/event-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const eventColumns = `id, title, content, event_type, starts_at, ends_at, max_winners, deleted_at, created_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var event domain.Event
	var eventType string
	err := row.Scan(
		&event.ID,
		&event.Title,
		&event.Content,
		&eventType,
		&event.StartsAt,
		&event.EndsAt,
		&event.MaxWinners,
		&event.DeletedAt,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Type = domain.EventType(eventType)
	return &event, nil
}

// CreateEvent inserts the event together with its draw lock, default stock row
// and reward policy inside one transaction.
func (r *PostgresRepository) CreateEvent(ctx context.Context, params CreateEventParams) (*domain.Event, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	in := params.Event
	query := `
		INSERT INTO events (title, content, event_type, starts_at, ends_at, max_winners)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + eventColumns
	event, err := scanEvent(tx.QueryRow(ctx, query,
		in.Title,
		in.Content,
		string(in.Type),
		in.StartsAt,
		in.EndsAt,
		in.MaxWinners,
	))
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if _, err = tx.Exec(ctx,
		"INSERT INTO event_draw_locks (lock_key, event_id) VALUES ($1, $2)",
		domain.DrawLockKey(event.ID), event.ID,
	); err != nil {
		return nil, fmt.Errorf("insert draw lock: %w", err)
	}

	if _, err = tx.Exec(ctx,
		"INSERT INTO event_stocks (event_id, option_name, stock_count) VALUES ($1, $2, $3)",
		event.ID, domain.DefaultStockOption, params.InitialStock,
	); err != nil {
		return nil, fmt.Errorf("insert stock: %w", err)
	}

	if p := params.RewardPolicy; p != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO event_reward_policies (event_id, reward_type, fixed_amount, min_amount, max_amount, target_average)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, event.ID, string(p.Type), p.FixedAmount, p.MinAmount, p.MaxAmount, p.TargetAverage)
		if err != nil {
			return nil, fmt.Errorf("insert reward policy: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return event, nil
}

func (r *PostgresRepository) FindEventByID(ctx context.Context, eventID int64) (*domain.Event, error) {
	event, err := scanEvent(r.db.QueryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id = $1", eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return event, nil
}

// SoftDeleteEvent sets deleted_at and erases entry contact data in one transaction.
func (r *PostgresRepository) SoftDeleteEvent(ctx context.Context, eventID int64, deletedAt time.Time) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "UPDATE events SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL", eventID, deletedAt)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)", eventID).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, ErrEventNotFound
		}
	}

	tag, err = tx.Exec(ctx, `
		UPDATE event_entries
		SET contact_phone = NULL, contact_email = NULL, contact_address = NULL, updated_at = NOW()
		WHERE event_id = $1
		  AND (contact_phone IS NOT NULL OR contact_email IS NOT NULL OR contact_address IS NOT NULL)
	`, eventID)
	if err != nil {
		return 0, fmt.Errorf("erase contacts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ListRaffleEventsDueForDraw(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events e
		WHERE e.event_type = 'RAFFLE'
		  AND e.deleted_at IS NULL
		  AND e.ends_at <= $1
		  AND e.max_winners > (
			SELECT COUNT(*) FROM event_entries en WHERE en.event_id = e.id AND en.status = 'WIN'
		  )
		  AND EXISTS (
			SELECT 1 FROM event_entries en WHERE en.event_id = e.id AND en.status = 'PENDING'
		  )
		ORDER BY e.ends_at, e.id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) FindStock(ctx context.Context, eventID int64, option string) (*domain.Stock, error) {
	stock := domain.Stock{EventID: eventID, Option: domain.NormalizeStockOption(option)}
	err := r.db.QueryRow(ctx,
		"SELECT stock_count FROM event_stocks WHERE event_id = $1 AND option_name = $2",
		eventID, stock.Option,
	).Scan(&stock.Remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStockNotFound
		}
		return nil, err
	}
	return &stock, nil
}

const decrementStockSQL = `
	UPDATE event_stocks
	SET stock_count = stock_count - 1
	WHERE event_id = $1 AND option_name = $2 AND stock_count > 0
`

// DecrementStock is the single conditional update that claims a unit of stock.
func (r *PostgresRepository) DecrementStock(ctx context.Context, eventID int64, option string) (int64, error) {
	tag, err := r.db.Exec(ctx, decrementStockSQL, eventID, domain.NormalizeStockOption(option))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ReplenishStock(ctx context.Context, eventID int64, option string, count int64) (*domain.Stock, error) {
	if count <= 0 {
		return nil, domain.ErrInvalidReplenishCount
	}
	stock := domain.Stock{EventID: eventID, Option: domain.NormalizeStockOption(option)}
	err := r.db.QueryRow(ctx, `
		INSERT INTO event_stocks (event_id, option_name, stock_count)
		SELECT id, $2::text, $3::bigint FROM events WHERE id = $1
		ON CONFLICT (event_id, option_name)
		DO UPDATE SET stock_count = event_stocks.stock_count + EXCLUDED.stock_count
		RETURNING stock_count
	`, eventID, stock.Option, count).Scan(&stock.Remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &stock, nil
}

func (r *PostgresRepository) FindRewardPolicy(ctx context.Context, eventID int64) (*domain.RewardPolicy, error) {
	policy := domain.RewardPolicy{EventID: eventID}
	var rewardType string
	err := r.db.QueryRow(ctx, `
		SELECT reward_type, fixed_amount, min_amount, max_amount, target_average
		FROM event_reward_policies
		WHERE event_id = $1
	`, eventID).Scan(&rewardType, &policy.FixedAmount, &policy.MinAmount, &policy.MaxAmount, &policy.TargetAverage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardPolicyNotFound
		}
		return nil, err
	}
	policy.Type = domain.RewardType(rewardType)
	return &policy, nil
}

// WithDrawLock takes the row lock on the event's draw lock row and keeps the
// transaction open while fn runs. Work inside fn uses its own connections, so
// each write it makes is durable on its own; the lock only serializes draws.
// Waiting for the lock is bounded only by ctx.
func (r *PostgresRepository) WithDrawLock(ctx context.Context, eventID int64, fn func(ctx context.Context) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var lockKey string
	err = tx.QueryRow(ctx,
		"SELECT lock_key FROM event_draw_locks WHERE lock_key = $1 FOR UPDATE",
		domain.DrawLockKey(eventID),
	).Scan(&lockKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrDrawLockNotFound, domain.DrawLockKey(eventID))
		}
		return fmt.Errorf("acquire draw lock: %w", err)
	}

	if err := fn(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
