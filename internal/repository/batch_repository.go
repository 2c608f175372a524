package repository

import (
	"context"
	"errors"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BatchRepository struct {
	db *pgxpool.Pool
}

func NewBatchRepository(db *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = "id, user_id, property_id, group_ids, status, outcomes, error, created_at, completed_at"

func scanBatch(row pgx.Row) (*entities.BatchRun, error) {
	var b entities.BatchRun
	var status string
	err := row.Scan(&b.ID, &b.UserID, &b.PropertyID, &b.GroupIDs, &status, &b.Outcomes,
		&b.Error, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.Status = entities.BatchStatus(status)
	if b.Outcomes == nil {
		b.Outcomes = map[string]entities.Outcome{}
	}
	return &b, nil
}

// Save upserts the run; group order is kept in the group_ids array
func (r *BatchRepository) Save(ctx context.Context, b *entities.BatchRun) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO batch_runs (id, user_id, property_id, group_ids, status, outcomes, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET status = EXCLUDED.status, outcomes = EXCLUDED.outcomes,
			error = EXCLUDED.error, completed_at = EXCLUDED.completed_at
	`, b.ID, b.UserID, b.PropertyID, b.GroupIDs, string(b.Status), b.Outcomes, b.Error, b.CreatedAt, b.CompletedAt)
	return err
}

func (r *BatchRepository) Get(ctx context.Context, id string) (*entities.BatchRun, error) {
	b, err := scanBatch(r.db.QueryRow(ctx, "SELECT "+batchColumns+" FROM batch_runs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrBatchNotFound
	}
	return b, err
}

func (r *BatchRepository) ListSince(ctx context.Context, userID int, since time.Time) ([]entities.BatchRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+batchColumns+`
		FROM batch_runs
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []entities.BatchRun{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}
