package entities

import "time"

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	PackageID    string    `json:"package_id"` // free, agent, elite
	Timezone     string    `json:"timezone"`   // IANA zone used for the daily reset
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Location resolves the user's configured zone, falling back to fallback when
// the stored name is empty or unknown.
func (u *User) Location(fallback *time.Location) *time.Location {
	if u == nil || u.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// Group is a third-party group saved by a user as a posting target.
type Group struct {
	UserID    int       `json:"user_id"`
	GroupID   string    `json:"group_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Property is a listing owned by a user. Caption is produced upstream by the
// caption templating service.
type Property struct {
	ID        string    `json:"id"`
	UserID    int       `json:"user_id"`
	Title     string    `json:"title"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `json:"created_at"`
}
