package usecases

import (
	"context"
	"fmt"

	"github.com/faztycoding/grandstate/internal/interfaces"
)

// DuplicateGuard answers whether a property already went out to a group.
// Only successful attempts count; failed ones may be retried.
type DuplicateGuard struct {
	attempts interfaces.AttemptStore
}

func NewDuplicateGuard(attempts interfaces.AttemptStore) *DuplicateGuard {
	return &DuplicateGuard{attempts: attempts}
}

func (g *DuplicateGuard) AlreadyPosted(ctx context.Context, userID int, propertyID, groupID string) (bool, error) {
	posted, err := g.attempts.HasSuccess(ctx, userID, propertyID, groupID)
	if err != nil {
		return false, fmt.Errorf("duplicate check %s/%s: %w", propertyID, groupID, err)
	}
	return posted, nil
}
