package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/rs/zerolog"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// ErrNoStoredDevice means auto login found no paired WhatsApp device.
var ErrNoStoredDevice = errors.New("no paired whatsapp device, connect and scan the qr code first")

// WhatsAppAutomation runs one whatsmeow session per user and posts captions
// into WhatsApp groups.
type WhatsAppAutomation struct {
	mu       sync.RWMutex
	sessions map[int]*WhatsAppSession
	baseDir  string
	log      zerolog.Logger
}

func NewWhatsAppAutomation(baseDir string, log zerolog.Logger) (*WhatsAppAutomation, error) {
	// Ensure devices directory exists
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create devices directory: %w", err)
	}
	return &WhatsAppAutomation{
		sessions: make(map[int]*WhatsAppSession),
		baseDir:  baseDir,
		log:      log.With().Str("backend", "whatsapp").Logger(),
	}, nil
}

func (a *WhatsAppAutomation) Name() string { return "whatsapp" }

func (a *WhatsAppAutomation) devicePath(userID int) string {
	return filepath.Join(a.baseDir, fmt.Sprintf("user_%d.db", userID))
}

func (a *WhatsAppAutomation) session(userID int) *WhatsAppSession {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessions[userID]
}

// open returns the user's session, creating it from the device store.
func (a *WhatsAppAutomation) open(ctx context.Context, userID int) (*WhatsAppSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.sessions[userID]; ok {
		return s, nil
	}
	s, err := NewWhatsAppSession(ctx, a.devicePath(userID), userID, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp session for user %d: %w", userID, err)
	}
	a.sessions[userID] = s
	return s, nil
}

func (a *WhatsAppAutomation) drop(userID int) {
	a.mu.Lock()
	s, ok := a.sessions[userID]
	delete(a.sessions, userID)
	a.mu.Unlock()
	if ok {
		s.Disconnect()
	}
}

func (a *WhatsAppAutomation) Connect(ctx context.Context, userID int) error {
	s, err := a.open(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Connect(ctx); err != nil {
		a.drop(userID)
		return fmt.Errorf("failed to connect WhatsApp for user %d: %w", userID, err)
	}
	return nil
}

// ConfirmLogin waits for the QR code to be scanned.
func (a *WhatsAppAutomation) ConfirmLogin(ctx context.Context, userID int) (entities.Identity, error) {
	s := a.session(userID)
	if s == nil {
		return entities.Identity{}, entities.ErrNotConnected
	}
	identity, err := s.WaitPaired(ctx)
	if err != nil {
		a.drop(userID)
		return entities.Identity{}, err
	}
	return identity, nil
}

// AutoLogin resumes a previously paired device. WhatsApp has no password
// login, so creds are ignored.
func (a *WhatsAppAutomation) AutoLogin(ctx context.Context, userID int, _ entities.Credentials) (entities.Identity, error) {
	s, err := a.open(ctx, userID)
	if err != nil {
		return entities.Identity{}, err
	}
	if s.Client.Store.ID == nil {
		a.drop(userID)
		return entities.Identity{}, ErrNoStoredDevice
	}
	if err := s.Connect(ctx); err != nil {
		a.drop(userID)
		return entities.Identity{}, fmt.Errorf("failed to connect WhatsApp for user %d: %w", userID, err)
	}
	return s.Identity(), nil
}

// Disconnect closes the socket and keeps the device, so AutoLogin can resume.
func (a *WhatsAppAutomation) Disconnect(ctx context.Context, userID int) error {
	a.drop(userID)
	return nil
}

// QRCode returns the latest login code, "" when none is pending.
func (a *WhatsAppAutomation) QRCode(userID int) string {
	if s := a.session(userID); s != nil {
		return s.QR()
	}
	return ""
}

// groupJID accepts a full JID or a bare group id.
func groupJID(groupID string) (types.JID, error) {
	if !strings.Contains(groupID, "@") {
		groupID += "@" + types.GroupServer
	}
	return types.ParseJID(groupID)
}

func (a *WhatsAppAutomation) Post(ctx context.Context, req interfaces.PostRequest) error {
	s := a.session(req.UserID)
	if s == nil || !s.Ready() {
		return &entities.PostError{GroupID: req.GroupID, Reason: "session not ready", Err: entities.ErrSessionExpired}
	}
	jid, err := groupJID(req.GroupID)
	if err != nil {
		return &entities.PostError{GroupID: req.GroupID, Reason: "invalid group id", Err: err}
	}
	text := req.Text()
	if _, err := s.Client.SendMessage(ctx, jid, &waProto.Message{Conversation: &text}); err != nil {
		return &entities.PostError{GroupID: req.GroupID, Reason: "send message", Err: err}
	}
	return nil
}

// DisconnectAll disconnects all sessions (for graceful shutdown)
func (a *WhatsAppAutomation) DisconnectAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sessions {
		s.Disconnect()
	}
	a.sessions = make(map[int]*WhatsAppSession)
}
