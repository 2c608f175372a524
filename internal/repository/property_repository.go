package repository

import (
	"context"
	"errors"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PropertyRepository stores listings and their pre-rendered captions
type PropertyRepository struct {
	db *pgxpool.Pool
}

func NewPropertyRepository(db *pgxpool.Pool) *PropertyRepository {
	return &PropertyRepository{db: db}
}

func (r *PropertyRepository) Upsert(ctx context.Context, p *entities.Property) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO properties (id, user_id, title, caption)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET title = EXCLUDED.title, caption = EXCLUDED.caption, updated_at = CURRENT_TIMESTAMP
		WHERE properties.user_id = EXCLUDED.user_id
		RETURNING created_at
	`, p.ID, p.UserID, p.Title, p.Caption).Scan(&p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// conflict row owned by someone else, nothing returned
		return ErrPropertyOwner
	}
	return err
}

func (r *PropertyRepository) Get(ctx context.Context, userID int, id string) (*entities.Property, error) {
	var p entities.Property
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, title, caption, created_at
		FROM properties WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&p.ID, &p.UserID, &p.Title, &p.Caption, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PropertyRepository) List(ctx context.Context, userID int) ([]entities.Property, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, title, caption, created_at
		FROM properties WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	properties := []entities.Property{}
	for rows.Next() {
		var p entities.Property
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Caption, &p.CreatedAt); err != nil {
			return nil, err
		}
		properties = append(properties, p)
	}
	return properties, rows.Err()
}

func (r *PropertyRepository) Count(ctx context.Context, userID int) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM properties WHERE user_id = $1", userID).Scan(&n)
	return n, err
}

// Caption returns "" when the property is unknown.
func (r *PropertyRepository) Caption(ctx context.Context, userID int, propertyID string) (string, error) {
	var caption string
	err := r.db.QueryRow(ctx, "SELECT caption FROM properties WHERE id = $1 AND user_id = $2", propertyID, userID).Scan(&caption)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return caption, err
}
