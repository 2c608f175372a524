package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrUnknownPackage     = errors.New("unknown package")
	ErrInvalidTimezone    = errors.New("invalid timezone")
)

const tokenTTL = 24 * time.Hour

type AuthUsecase struct {
	users     interfaces.UserStore
	jwtSecret []byte
}

func NewAuthUsecase(users interfaces.UserStore, secret string) *AuthUsecase {
	return &AuthUsecase{
		users:     users,
		jwtSecret: []byte(secret),
	}
}

// Register creates a free-package user. An empty timezone leaves the
// server default in effect.
func (uc *AuthUsecase) Register(ctx context.Context, username, password, timezone string) (*entities.User, error) {
	existing, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTimezone, timezone)
		}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &entities.User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         "user", // Default
		PackageID:    entities.PlanFree,
		Timezone:     timezone,
		IsActive:     true,
	}
	if err := uc.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (uc *AuthUsecase) Login(ctx context.Context, username, password string) (string, error) {
	user, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if user == nil || !user.IsActive {
		return "", ErrInvalidCredentials
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return "", ErrInvalidCredentials
	}

	// Generate JWT
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"role":    user.Role,
		"exp":     time.Now().Add(tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}

	return tokenString, nil
}

// EnsureAdmin creates a root user if none exists (called on startup)
func (uc *AuthUsecase) EnsureAdmin(ctx context.Context, username, password string) error {
	user, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user != nil {
		return nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin := &entities.User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         "admin",
		PackageID:    entities.PlanElite,
		IsActive:     true,
	}
	return uc.users.Create(ctx, admin)
}

// SetPackage moves a user to another plan. The new limit applies from the
// next quota day.
func (uc *AuthUsecase) SetPackage(ctx context.Context, userID int, packageID string) error {
	packageID = strings.ToLower(strings.TrimSpace(packageID))
	if !KnownPlan(packageID) {
		return fmt.Errorf("%w: %q", ErrUnknownPackage, packageID)
	}
	return uc.users.UpdatePackage(ctx, userID, packageID)
}

func (uc *AuthUsecase) SetActive(ctx context.Context, userID int, active bool) error {
	return uc.users.UpdateStatus(ctx, userID, active)
}

func (uc *AuthUsecase) Users(ctx context.Context) ([]entities.User, error) {
	return uc.users.List(ctx)
}
