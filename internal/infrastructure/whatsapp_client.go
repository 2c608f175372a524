package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var errPairingFailed = errors.New("whatsapp pairing failed")

// WhatsAppSession is one user's whatsmeow client backed by its own device
// database, so a paired phone survives restarts.
type WhatsAppSession struct {
	Client *whatsmeow.Client
	UserID int

	log zerolog.Logger

	mu       sync.RWMutex
	stopQR   context.CancelFunc
	qrCode   string
	paired   chan struct{}
	pairErr  error
	loggedIn bool
}

func NewWhatsAppSession(ctx context.Context, dbPath string, userID int, log zerolog.Logger) (*WhatsAppSession, error) {
	log = log.With().Int("user_id", userID).Logger()

	// Initialize SQLite container
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)",
		waLog.Zerolog(log.With().Str("module", "whatsmeow.db").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	// Get the first device (or create one)
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(log.With().Str("module", "whatsmeow").Logger()))
	s := &WhatsAppSession{
		Client:   client,
		UserID:   userID,
		log:      log,
		paired:   make(chan struct{}),
		loggedIn: deviceStore.ID != nil,
	}
	client.AddEventHandler(s.handleEvent)
	return s, nil
}

func (s *WhatsAppSession) handleEvent(evt interface{}) {
	switch evt.(type) {
	case *events.LoggedOut:
		s.mu.Lock()
		s.loggedIn = false
		s.mu.Unlock()
		s.log.Warn().Msg("whatsapp device logged out remotely")
	case *events.Connected:
		s.log.Info().Msg("whatsapp connected")
	}
}

// Connect opens the socket. An unpaired device starts a QR login whose codes
// are exposed through QR until Paired fires.
func (s *WhatsAppSession) Connect(ctx context.Context) error {
	if s.Client.Store.ID != nil {
		if s.Client.IsConnected() {
			return nil
		}
		// Already logged in
		if err := s.Client.Connect(); err != nil {
			return err
		}
		s.markPaired(nil)
		s.log.Info().Msg("whatsapp resumed existing session")
		return nil
	}

	// No ID stored, new login. The QR emitter disconnects the client when
	// its context ends, so it must outlive the request that started it.
	qrCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	qrChan, err := s.Client.GetQRChannel(qrCtx)
	if err != nil {
		stop()
		return fmt.Errorf("qr channel: %w", err)
	}
	s.mu.Lock()
	s.stopQR = stop
	s.mu.Unlock()
	if err := s.Client.Connect(); err != nil {
		stop()
		return err
	}

	go s.watchQR(qrChan)
	return nil
}

// watchQR publishes login codes until pairing ends. A channel closed without
// success fails the pairing.
func (s *WhatsAppSession) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			s.mu.Lock()
			s.qrCode = evt.Code
			s.mu.Unlock()
			s.log.Debug().Msg("whatsapp qr code refreshed")
		case whatsmeow.QRChannelSuccess.Event:
			s.markPaired(nil)
			return
		default:
			s.log.Warn().Str("event", evt.Event).Msg("whatsapp login event")
			s.markPaired(fmt.Errorf("%w: %s", errPairingFailed, evt.Event))
			return
		}
	}
	s.markPaired(fmt.Errorf("%w: qr channel closed", errPairingFailed))
}

func (s *WhatsAppSession) markPaired(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.paired:
		return
	default:
	}
	s.qrCode = ""
	s.pairErr = err
	s.loggedIn = err == nil
	close(s.paired)
}

// WaitPaired blocks until the QR login finishes or ctx ends.
func (s *WhatsAppSession) WaitPaired(ctx context.Context) (entities.Identity, error) {
	select {
	case <-ctx.Done():
		return entities.Identity{}, ctx.Err()
	case <-s.paired:
	}
	s.mu.RLock()
	err := s.pairErr
	s.mu.RUnlock()
	if err != nil {
		return entities.Identity{}, err
	}
	return s.Identity(), nil
}

func (s *WhatsAppSession) QR() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qrCode
}

// Identity returns the push name of the paired account, or its number.
func (s *WhatsAppSession) Identity() entities.Identity {
	if s.Client.Store.ID == nil {
		return entities.Identity{}
	}
	name := s.Client.Store.PushName
	if name == "" {
		name = s.Client.Store.ID.User
	}
	return entities.Identity{Name: name}
}

// Ready returns true if client is connected and logged in
func (s *WhatsAppSession) Ready() bool {
	s.mu.RLock()
	loggedIn := s.loggedIn
	s.mu.RUnlock()
	return loggedIn && s.Client.IsConnected() && s.Client.Store.ID != nil
}

// Disconnect also abandons a pending QR login.
func (s *WhatsAppSession) Disconnect() {
	s.mu.Lock()
	stop := s.stopQR
	s.stopQR = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.Client.Disconnect()
}
