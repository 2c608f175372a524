package entities

import "time"

type SessionStatus string

const (
	SessionDisconnected SessionStatus = "disconnected"
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
)

// SessionState is the automation session of one user.
type SessionState struct {
	UserID       int           `json:"user_id"`
	Status       SessionStatus `json:"status"`
	IdentityName string        `json:"identity_name,omitempty"`
	ConnectedAt  *time.Time    `json:"connected_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
	LastError    string        `json:"last_error,omitempty"`
}

// Identity describes the external account behind a connected session.
type Identity struct {
	Name string `json:"name"`
}

// Credentials for unattended login. For the Telegram backend Password holds
// the bot token; the WhatsApp backend reuses its stored device and ignores them.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
