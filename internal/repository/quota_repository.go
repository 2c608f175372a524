package repository

import (
	"context"
	"errors"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuotaRepository stores one daily_quotas row per (user, day). Rows of past
// days are kept for history.
type QuotaRepository struct {
	db *pgxpool.Pool
}

func NewQuotaRepository(db *pgxpool.Pool) *QuotaRepository {
	return &QuotaRepository{db: db}
}

const quotaColumns = `user_id, day, posts_count, success_count, failed_count, skipped_duplicate_count,
	automation_runs_count, pending, daily_limit, reset_at, updated_at`

func scanQuota(row pgx.Row) (*entities.DailyQuota, error) {
	var q entities.DailyQuota
	err := row.Scan(&q.UserID, &q.Day, &q.PostsCount, &q.SuccessCount, &q.FailedCount,
		&q.SkippedDuplicateCount, &q.AutomationRunsCount, &q.Pending, &q.Limit, &q.ResetAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // No record means nothing used yet
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Latest returns the user's most recent record
func (r *QuotaRepository) Latest(ctx context.Context, userID int) (*entities.DailyQuota, error) {
	return scanQuota(r.db.QueryRow(ctx, `
		SELECT `+quotaColumns+`
		FROM daily_quotas WHERE user_id = $1
		ORDER BY reset_at DESC LIMIT 1
	`, userID))
}

func (r *QuotaRepository) Get(ctx context.Context, userID int, day string) (*entities.DailyQuota, error) {
	return scanQuota(r.db.QueryRow(ctx, `
		SELECT `+quotaColumns+`
		FROM daily_quotas WHERE user_id = $1 AND day = $2
	`, userID, day))
}

// Save writes the full record; the ledger serializes writers per user.
func (r *QuotaRepository) Save(ctx context.Context, q *entities.DailyQuota) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO daily_quotas (user_id, day, posts_count, success_count, failed_count,
			skipped_duplicate_count, automation_runs_count, pending, daily_limit, reset_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, day)
		DO UPDATE SET
			posts_count = EXCLUDED.posts_count,
			success_count = EXCLUDED.success_count,
			failed_count = EXCLUDED.failed_count,
			skipped_duplicate_count = EXCLUDED.skipped_duplicate_count,
			automation_runs_count = EXCLUDED.automation_runs_count,
			pending = EXCLUDED.pending,
			daily_limit = EXCLUDED.daily_limit,
			reset_at = EXCLUDED.reset_at,
			updated_at = EXCLUDED.updated_at
	`, q.UserID, q.Day, q.PostsCount, q.SuccessCount, q.FailedCount, q.SkippedDuplicateCount,
		q.AutomationRunsCount, q.Pending, q.Limit, q.ResetAt, q.UpdatedAt)
	return err
}

// ClearPending drops reservations orphaned by a crashed process
func (r *QuotaRepository) ClearPending(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx, "UPDATE daily_quotas SET pending = 0 WHERE pending > 0")
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
