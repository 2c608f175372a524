package usecases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/rs/zerolog"
)

// SessionRegistry is the per-user automation session state machine:
//
//	disconnected --Connect--> connecting --ConfirmLogin ok--> connected
//	connecting --ConfirmLogin fail--> disconnected
//	disconnected|connecting --AutoLogin ok--> connected (fail: disconnected)
//	connecting|connected --Disconnect--> disconnected
//	connected --MarkExpired--> disconnected
//
// Only one transition per user may be in flight; a second one fails with
// entities.ErrSessionTransitionConflict. Driver calls run outside the
// registry mutex.
type SessionRegistry struct {
	driver   interfaces.SessionDriver
	mu       sync.Mutex
	sessions map[int]*sessionEntry
	now      func() time.Time
	log      zerolog.Logger
}

type sessionEntry struct {
	state entities.SessionState
	busy  bool
}

func NewSessionRegistry(driver interfaces.SessionDriver, log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		driver:   driver,
		sessions: make(map[int]*sessionEntry),
		now:      time.Now,
		log:      log.With().Str("component", "session_registry").Logger(),
	}
}

// entry returns the user's entry, creating a disconnected one. Caller holds mu.
func (r *SessionRegistry) entry(userID int) *sessionEntry {
	e, ok := r.sessions[userID]
	if !ok {
		e = &sessionEntry{state: entities.SessionState{
			UserID:    userID,
			Status:    entities.SessionDisconnected,
			UpdatedAt: r.now(),
		}}
		r.sessions[userID] = e
	}
	return e
}

// begin claims the user's transition slot. It returns done=true with the
// current state when the session is already in target, so the call is a no-op.
func (r *SessionRegistry) begin(userID int, target entities.SessionStatus, from ...entities.SessionStatus) (*sessionEntry, entities.SessionState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(userID)
	if e.busy {
		return nil, e.state, false, entities.ErrSessionTransitionConflict
	}
	if e.state.Status == target {
		return nil, e.state, true, nil
	}
	for _, s := range from {
		if e.state.Status == s {
			e.busy = true
			return e, e.state, false, nil
		}
	}
	return nil, e.state, false, fmt.Errorf("%w: cannot go from %s to %s", entities.ErrNotConnected, e.state.Status, target)
}

// finish applies the outcome of a driver call and releases the slot.
func (r *SessionRegistry) finish(e *sessionEntry, status entities.SessionStatus, identity *entities.Identity, cause error) entities.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e.busy = false
	e.state.Status = status
	e.state.UpdatedAt = now
	e.state.LastError = ""
	if cause != nil {
		e.state.LastError = cause.Error()
	}
	switch status {
	case entities.SessionConnected:
		if identity != nil {
			e.state.IdentityName = identity.Name
		}
		e.state.ConnectedAt = &now
	case entities.SessionDisconnected:
		e.state.IdentityName = ""
		e.state.ConnectedAt = nil
	}
	return e.state
}

// Connect starts an interactive login. Connecting twice is a conflict; a
// connected session is returned as is.
func (r *SessionRegistry) Connect(ctx context.Context, userID int) (entities.SessionState, error) {
	r.mu.Lock()
	e := r.entry(userID)
	switch {
	case e.busy:
		state := e.state
		r.mu.Unlock()
		return state, entities.ErrSessionTransitionConflict
	case e.state.Status == entities.SessionConnected:
		state := e.state
		r.mu.Unlock()
		return state, nil
	case e.state.Status == entities.SessionConnecting:
		state := e.state
		r.mu.Unlock()
		return state, fmt.Errorf("%w: login already pending", entities.ErrSessionTransitionConflict)
	}
	e.busy = true
	r.mu.Unlock()

	if err := r.driver.Connect(ctx, userID); err != nil {
		r.log.Warn().Err(err).Int("user_id", userID).Msg("connect failed")
		return r.finish(e, entities.SessionDisconnected, nil, err), fmt.Errorf("connect: %w", err)
	}
	r.log.Info().Int("user_id", userID).Msg("session connecting")
	return r.finish(e, entities.SessionConnecting, nil, nil), nil
}

// ConfirmLogin completes a pending interactive login.
func (r *SessionRegistry) ConfirmLogin(ctx context.Context, userID int) (entities.SessionState, error) {
	e, state, done, err := r.begin(userID, entities.SessionConnected, entities.SessionConnecting)
	if err != nil || done {
		return state, err
	}

	identity, err := r.driver.ConfirmLogin(ctx, userID)
	if err != nil {
		r.log.Warn().Err(err).Int("user_id", userID).Msg("login confirmation failed")
		return r.finish(e, entities.SessionDisconnected, nil, err), fmt.Errorf("confirm login: %w", err)
	}
	r.log.Info().Int("user_id", userID).Str("identity", identity.Name).Msg("session connected")
	return r.finish(e, entities.SessionConnected, &identity, nil), nil
}

// AutoLogin connects without user interaction.
func (r *SessionRegistry) AutoLogin(ctx context.Context, userID int, creds entities.Credentials) (entities.SessionState, error) {
	e, state, done, err := r.begin(userID, entities.SessionConnected, entities.SessionDisconnected, entities.SessionConnecting)
	if err != nil || done {
		return state, err
	}

	identity, err := r.driver.AutoLogin(ctx, userID, creds)
	if err != nil {
		r.log.Warn().Err(err).Int("user_id", userID).Msg("auto login failed")
		return r.finish(e, entities.SessionDisconnected, nil, err), fmt.Errorf("auto login: %w", err)
	}
	r.log.Info().Int("user_id", userID).Str("identity", identity.Name).Msg("session connected by auto login")
	return r.finish(e, entities.SessionConnected, &identity, nil), nil
}

// Disconnect ends the session. Driver errors are logged; the session is
// considered gone either way.
func (r *SessionRegistry) Disconnect(ctx context.Context, userID int) (entities.SessionState, error) {
	e, state, done, err := r.begin(userID, entities.SessionDisconnected, entities.SessionConnecting, entities.SessionConnected)
	if err != nil || done {
		return state, err
	}

	if err := r.driver.Disconnect(ctx, userID); err != nil {
		r.log.Warn().Err(err).Int("user_id", userID).Msg("driver disconnect failed")
	}
	r.log.Info().Int("user_id", userID).Msg("session disconnected")
	return r.finish(e, entities.SessionDisconnected, nil, nil), nil
}

// MarkExpired records that the external side dropped a connected session.
// It is a no-op unless the session is connected and idle.
func (r *SessionRegistry) MarkExpired(userID int) {
	r.mu.Lock()
	e := r.entry(userID)
	if e.busy || e.state.Status != entities.SessionConnected {
		r.mu.Unlock()
		return
	}
	e.busy = true
	r.mu.Unlock()

	r.finish(e, entities.SessionDisconnected, nil, entities.ErrSessionExpired)
	r.log.Warn().Int("user_id", userID).Msg("external session expired")
}

func (r *SessionRegistry) State(userID int) entities.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry(userID).state
}

// Require fails with entities.ErrNotConnected unless the user is connected.
func (r *SessionRegistry) Require(userID int) error {
	if r.State(userID).Status != entities.SessionConnected {
		return entities.ErrNotConnected
	}
	return nil
}
