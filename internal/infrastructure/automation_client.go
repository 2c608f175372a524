package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/rs/zerolog"
)

// AutomationClient talks to the browser-automation worker that owns the real
// social-network sessions. All endpoints take and return JSON.
type AutomationClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewAutomationClient(baseURL string, timeout time.Duration, log zerolog.Logger) *AutomationClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &AutomationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("backend", "http").Logger(),
	}
}

func (c *AutomationClient) Name() string { return "http" }

type workerRequest struct {
	UserID     int    `json:"user_id"`
	Email      string `json:"email,omitempty"`
	Password   string `json:"password,omitempty"`
	PropertyID string `json:"property_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	Caption    string `json:"caption,omitempty"`
}

type workerResponse struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// WorkerError is a non-2xx answer from the worker.
type WorkerError struct {
	Status  int
	Message string
}

func (e *WorkerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("automation worker returned %d", e.Status)
	}
	return fmt.Sprintf("automation worker returned %d: %s", e.Status, e.Message)
}

// Unauthorized and Gone mean the worker lost the login.
func (e *WorkerError) Is(target error) bool {
	return target == entities.ErrSessionExpired &&
		(e.Status == http.StatusUnauthorized || e.Status == http.StatusGone)
}

func (c *AutomationClient) call(ctx context.Context, path string, body workerRequest) (*workerResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read worker response: %w", err)
	}
	var out workerResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("decode worker response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		return nil, &WorkerError{Status: resp.StatusCode, Message: out.Error}
	}
	return &out, nil
}

func (c *AutomationClient) Connect(ctx context.Context, userID int) error {
	_, err := c.call(ctx, "/connect", workerRequest{UserID: userID})
	return err
}

func (c *AutomationClient) ConfirmLogin(ctx context.Context, userID int) (entities.Identity, error) {
	out, err := c.call(ctx, "/confirm-login", workerRequest{UserID: userID})
	if err != nil {
		return entities.Identity{}, err
	}
	return entities.Identity{Name: out.Name}, nil
}

func (c *AutomationClient) AutoLogin(ctx context.Context, userID int, creds entities.Credentials) (entities.Identity, error) {
	if creds.Email == "" || creds.Password == "" {
		return entities.Identity{}, errors.New("email and password are required")
	}
	out, err := c.call(ctx, "/auto-login", workerRequest{UserID: userID, Email: creds.Email, Password: creds.Password})
	if err != nil {
		return entities.Identity{}, err
	}
	return entities.Identity{Name: out.Name}, nil
}

func (c *AutomationClient) Disconnect(ctx context.Context, userID int) error {
	_, err := c.call(ctx, "/disconnect", workerRequest{UserID: userID})
	return err
}

func (c *AutomationClient) Post(ctx context.Context, req interfaces.PostRequest) error {
	_, err := c.call(ctx, "/post", workerRequest{
		UserID:     req.UserID,
		PropertyID: req.PropertyID,
		GroupID:    req.GroupID,
		Caption:    req.Text(),
	})
	if err != nil {
		c.log.Debug().Err(err).Int("user_id", req.UserID).Str("group_id", req.GroupID).Msg("worker post failed")
		return &entities.PostError{GroupID: req.GroupID, Reason: "worker post", Err: err}
	}
	return nil
}
