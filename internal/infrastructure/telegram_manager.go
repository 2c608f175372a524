package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ErrInteractiveLogin is returned by backends that only support auto login.
var ErrInteractiveLogin = errors.New("backend does not support interactive login, use auto login")

// TelegramAutomation posts through one bot per user. The bot token is the
// password of the user's auto login.
type TelegramAutomation struct {
	mu       sync.RWMutex
	bots     map[int]*tgbotapi.BotAPI
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

func NewTelegramAutomation(log zerolog.Logger) *TelegramAutomation {
	return &TelegramAutomation{
		bots:     make(map[int]*tgbotapi.BotAPI),
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{},
		log:      log.With().Str("backend", "telegram").Logger(),
	}
}

func (t *TelegramAutomation) Name() string { return "telegram" }

func (t *TelegramAutomation) bot(userID int) *tgbotapi.BotAPI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bots[userID]
}

func (t *TelegramAutomation) Connect(ctx context.Context, userID int) error {
	return ErrInteractiveLogin
}

func (t *TelegramAutomation) ConfirmLogin(ctx context.Context, userID int) (entities.Identity, error) {
	return entities.Identity{}, ErrInteractiveLogin
}

// AutoLogin validates the token with getMe and keeps the bot for posting.
func (t *TelegramAutomation) AutoLogin(ctx context.Context, userID int, creds entities.Credentials) (entities.Identity, error) {
	token := strings.TrimSpace(creds.Password)
	if token == "" {
		return entities.Identity{}, errors.New("bot token is required")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, t.endpoint, t.client)
	if err != nil {
		return entities.Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	t.mu.Lock()
	t.bots[userID] = bot
	t.mu.Unlock()

	t.log.Info().Int("user_id", userID).Str("bot", bot.Self.UserName).Msg("telegram bot attached")
	return entities.Identity{Name: "@" + bot.Self.UserName}, nil
}

func (t *TelegramAutomation) Disconnect(ctx context.Context, userID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.bots, userID)
	return nil
}

func (t *TelegramAutomation) Post(ctx context.Context, req interfaces.PostRequest) error {
	bot := t.bot(req.UserID)
	if bot == nil {
		return &entities.PostError{GroupID: req.GroupID, Reason: "bot not attached", Err: entities.ErrSessionExpired}
	}
	chatID, err := strconv.ParseInt(req.GroupID, 10, 64)
	if err != nil {
		return &entities.PostError{GroupID: req.GroupID, Reason: "invalid chat id", Err: err}
	}

	msg := tgbotapi.NewMessage(chatID, req.Text())
	if _, err := bot.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
			// Token revoked in BotFather.
			err = fmt.Errorf("%w: %v", entities.ErrSessionExpired, err)
		}
		return &entities.PostError{GroupID: req.GroupID, Reason: "send message", Err: err}
	}
	return nil
}

// DisconnectAll drops all bots (for graceful shutdown)
func (t *TelegramAutomation) DisconnectAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bots = make(map[int]*tgbotapi.BotAPI)
}
