package http

import (
	"net/http"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/faztycoding/grandstate/internal/usecases"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

// SessionHandler exposes the automation session lifecycle
type SessionHandler struct {
	sessions *usecases.SessionRegistry
	qr       interfaces.QRSource
	backend  string
}

func NewSessionHandler(sessions *usecases.SessionRegistry, qr interfaces.QRSource, backend string) *SessionHandler {
	return &SessionHandler{sessions: sessions, qr: qr, backend: backend}
}

func (h *SessionHandler) RegisterRoutes(api *gin.RouterGroup) {
	s := api.Group("/session")
	{
		s.GET("/status", h.GetStatus)
		s.POST("/connect", h.Connect)
		s.POST("/confirm", h.ConfirmLogin)
		s.POST("/auto-login", h.AutoLogin)
		s.POST("/disconnect", h.Disconnect)
		s.GET("/qr", h.GetQRCode)
	}
}

func (h *SessionHandler) respond(c *gin.Context, state entities.SessionState, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backend": h.backend, "session": state})
}

func (h *SessionHandler) GetStatus(c *gin.Context) {
	h.respond(c, h.sessions.State(getUserID(c)), nil)
}

func (h *SessionHandler) Connect(c *gin.Context) {
	state, err := h.sessions.Connect(c.Request.Context(), getUserID(c))
	h.respond(c, state, err)
}

// ConfirmLogin blocks until the user finishes the interactive login or the
// request is cancelled.
func (h *SessionHandler) ConfirmLogin(c *gin.Context) {
	state, err := h.sessions.ConfirmLogin(c.Request.Context(), getUserID(c))
	h.respond(c, state, err)
}

func (h *SessionHandler) AutoLogin(c *gin.Context) {
	var creds entities.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	state, err := h.sessions.AutoLogin(c.Request.Context(), getUserID(c), creds)
	h.respond(c, state, err)
}

func (h *SessionHandler) Disconnect(c *gin.Context) {
	state, err := h.sessions.Disconnect(c.Request.Context(), getUserID(c))
	h.respond(c, state, err)
}

// GetQRCode returns the pending login QR code as PNG
func (h *SessionHandler) GetQRCode(c *gin.Context) {
	if h.qr == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "backend has no QR login", "code": "qr_unsupported"})
		return
	}
	userID := getUserID(c)
	code := h.qr.QRCode(userID)
	if code == "" {
		if h.sessions.State(userID).Status == entities.SessionConnected {
			c.String(http.StatusOK, "Already logged in")
			return
		}
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}

	// Generate PNG
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
