package repository

import (
	"context"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptRepository is the append-only posting_attempts table. Rows are never
// updated, so concurrent writers need no locking.
type AttemptRepository struct {
	db *pgxpool.Pool
}

func NewAttemptRepository(db *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Append(ctx context.Context, a *entities.PostingAttempt) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO posting_attempts (id, user_id, property_id, group_id, group_name, batch_id, outcome, error_detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.UserID, a.PropertyID, a.GroupID, a.GroupName, a.BatchID, string(a.Outcome), a.ErrorDetail, a.Timestamp)
	return err
}

// HasSuccess uses the (user_id, property_id, group_id) index
func (r *AttemptRepository) HasSuccess(ctx context.Context, userID int, propertyID, groupID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM posting_attempts
			WHERE user_id = $1 AND property_id = $2 AND group_id = $3 AND outcome = 'success'
		)
	`, userID, propertyID, groupID).Scan(&exists)
	return exists, err
}

func (r *AttemptRepository) List(ctx context.Context, userID int, propertyID string, limit int) ([]entities.PostingAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, property_id, group_id, group_name, batch_id, outcome, error_detail, created_at
		FROM posting_attempts
		WHERE user_id = $1 AND ($2 = '' OR property_id = $2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3
	`, userID, propertyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []entities.PostingAttempt{}
	for rows.Next() {
		var a entities.PostingAttempt
		var outcome string
		if err := rows.Scan(&a.ID, &a.UserID, &a.PropertyID, &a.GroupID, &a.GroupName,
			&a.BatchID, &outcome, &a.ErrorDetail, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Outcome = entities.Outcome(outcome)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
