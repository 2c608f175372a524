package repository

import (
	"context"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GroupRepository keeps the groups a user posts into
type GroupRepository struct {
	db *pgxpool.Pool
}

func NewGroupRepository(db *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) Upsert(ctx context.Context, g *entities.Group) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO user_groups (user_id, group_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, group_id)
		DO UPDATE SET name = EXCLUDED.name
		RETURNING created_at
	`, g.UserID, g.GroupID, g.Name).Scan(&g.CreatedAt)
}

func (r *GroupRepository) Delete(ctx context.Context, userID int, groupID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM user_groups WHERE user_id = $1 AND group_id = $2", userID, groupID)
	return err
}

func (r *GroupRepository) List(ctx context.Context, userID int) ([]entities.Group, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, group_id, name, created_at
		FROM user_groups WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []entities.Group{}
	for rows.Next() {
		var g entities.Group
		if err := rows.Scan(&g.UserID, &g.GroupID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
