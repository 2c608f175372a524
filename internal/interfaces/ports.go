package interfaces

import (
	"context"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
)

// PostRequest is one external post of a property into a group.
type PostRequest struct {
	UserID     int
	PropertyID string
	GroupID    string
	Caption    string
}

// Text is the message body; a property without a caption is posted by id.
func (r PostRequest) Text() string {
	if r.Caption != "" {
		return r.Caption
	}
	return r.PropertyID
}

// Poster performs the third-party post. It is blocking and not idempotent.
// An error wrapping entities.ErrSessionExpired means the session is gone.
type Poster interface {
	Post(ctx context.Context, req PostRequest) error
}

// SessionDriver drives the external automation identity of a user.
type SessionDriver interface {
	Connect(ctx context.Context, userID int) error
	ConfirmLogin(ctx context.Context, userID int) (entities.Identity, error)
	AutoLogin(ctx context.Context, userID int, creds entities.Credentials) (entities.Identity, error)
	Disconnect(ctx context.Context, userID int) error
}

// Automation is a backend that both drives sessions and posts.
type Automation interface {
	Poster
	SessionDriver
	Name() string
}

// QRSource is implemented by drivers whose connect step yields a login QR code.
type QRSource interface {
	QRCode(userID int) string
}

// CaptionSource is the caption templating collaborator.
type CaptionSource interface {
	Caption(ctx context.Context, userID int, propertyID string) (string, error)
}

type UserStore interface {
	Create(ctx context.Context, user *entities.User) error
	GetByID(ctx context.Context, id int) (*entities.User, error)
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	UpdatePackage(ctx context.Context, id int, packageID string) error
	UpdateStatus(ctx context.Context, id int, active bool) error
	List(ctx context.Context) ([]entities.User, error)
}

// QuotaStore persists DailyQuota records keyed by (user, day).
type QuotaStore interface {
	// Latest returns the most recent record of the user, nil if none.
	Latest(ctx context.Context, userID int) (*entities.DailyQuota, error)
	Get(ctx context.Context, userID int, day string) (*entities.DailyQuota, error)
	Save(ctx context.Context, q *entities.DailyQuota) error
	// ClearPending zeroes reserved slots left behind by a previous process.
	ClearPending(ctx context.Context) (int, error)
}

// AttemptStore is the append-only history store.
type AttemptStore interface {
	Append(ctx context.Context, a *entities.PostingAttempt) error
	HasSuccess(ctx context.Context, userID int, propertyID, groupID string) (bool, error)
	// List returns attempts newest first; empty propertyID means all.
	List(ctx context.Context, userID int, propertyID string, limit int) ([]entities.PostingAttempt, error)
}

type BatchStore interface {
	Save(ctx context.Context, b *entities.BatchRun) error
	Get(ctx context.Context, id string) (*entities.BatchRun, error)
	// ListSince returns the user's batches created at or after since, oldest first.
	ListSince(ctx context.Context, userID int, since time.Time) ([]entities.BatchRun, error)
}

// GroupStore is the user's saved group directory.
type GroupStore interface {
	Upsert(ctx context.Context, g *entities.Group) error
	Delete(ctx context.Context, userID int, groupID string) error
	List(ctx context.Context, userID int) ([]entities.Group, error)
}

type PropertyStore interface {
	CaptionSource
	Upsert(ctx context.Context, p *entities.Property) error
	// Get returns nil, nil when the user owns no property with that id.
	Get(ctx context.Context, userID int, id string) (*entities.Property, error)
	List(ctx context.Context, userID int) ([]entities.Property, error)
	Count(ctx context.Context, userID int) (int, error)
}
