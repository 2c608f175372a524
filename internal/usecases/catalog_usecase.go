package usecases

import (
	"context"
	"fmt"
	"strings"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
)

// CatalogUsecase manages the groups and properties a user posts, within the
// limits of the user's package.
type CatalogUsecase struct {
	users      interfaces.UserStore
	groups     interfaces.GroupStore
	properties interfaces.PropertyStore
}

func NewCatalogUsecase(users interfaces.UserStore, groups interfaces.GroupStore, properties interfaces.PropertyStore) *CatalogUsecase {
	return &CatalogUsecase{users: users, groups: groups, properties: properties}
}

func (u *CatalogUsecase) plan(ctx context.Context, userID int) (entities.PackagePlan, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return entities.PackagePlan{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	if user == nil {
		return LimitsFor(""), nil
	}
	return LimitsFor(user.PackageID), nil
}

func (u *CatalogUsecase) ListGroups(ctx context.Context, userID int) ([]entities.Group, error) {
	return u.groups.List(ctx, userID)
}

// SaveGroup adds or renames a group. New groups must fit plan.MaxGroups.
func (u *CatalogUsecase) SaveGroup(ctx context.Context, userID int, groupID, name string) (*entities.Group, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("%w: empty group id", entities.ErrInvalidBatch)
	}
	plan, err := u.plan(ctx, userID)
	if err != nil {
		return nil, err
	}
	existing, err := u.groups.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	known := false
	for _, g := range existing {
		if g.GroupID == groupID {
			known = true
			break
		}
	}
	if !known && len(existing) >= plan.MaxGroups {
		return nil, &entities.GroupLimitError{Requested: len(existing) + 1, Max: plan.MaxGroups, PlanID: plan.ID}
	}

	g := &entities.Group{UserID: userID, GroupID: groupID, Name: strings.TrimSpace(name)}
	if err := u.groups.Upsert(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (u *CatalogUsecase) DeleteGroup(ctx context.Context, userID int, groupID string) error {
	return u.groups.Delete(ctx, userID, groupID)
}

// SaveProperty stores a listing and its caption. New listings must fit
// plan.MaxProperties.
func (u *CatalogUsecase) SaveProperty(ctx context.Context, p *entities.Property) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: property id is required", entities.ErrInvalidBatch)
	}
	plan, err := u.plan(ctx, p.UserID)
	if err != nil {
		return err
	}
	existing, err := u.properties.Get(ctx, p.UserID, p.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		n, err := u.properties.Count(ctx, p.UserID)
		if err != nil {
			return err
		}
		if !plan.AllowsProperties(n + 1) {
			return fmt.Errorf("%w: %s package allows %d", entities.ErrPropertyLimitExceeded, plan.ID, plan.MaxProperties)
		}
	}
	return u.properties.Upsert(ctx, p)
}

func (u *CatalogUsecase) ListProperties(ctx context.Context, userID int) ([]entities.Property, error) {
	return u.properties.List(ctx, userID)
}
