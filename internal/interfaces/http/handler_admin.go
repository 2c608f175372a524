package http

import (
	"net/http"
	"strconv"

	"github.com/faztycoding/grandstate/internal/usecases"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	auth *usecases.AuthUsecase
}

func NewAdminHandler(auth *usecases.AuthUsecase) *AdminHandler {
	return &AdminHandler{auth: auth}
}

// GetAllUsers returns list of all users
func (h *AdminHandler) GetAllUsers(c *gin.Context) {
	users, err := h.auth.Users(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// UpdateUserStatus enables or disables login for a user
func (h *AdminHandler) UpdateUserStatus(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid user ID")
		return
	}

	var payload struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	// Don't allow disabling self
	if getUserID(c) == userID && !payload.IsActive {
		badRequest(c, "Cannot disable your own account")
		return
	}

	if err := h.auth.SetActive(c.Request.Context(), userID, payload.IsActive); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "is_active": payload.IsActive})
}

// UpdateUserPackage moves a user to another plan; the new daily limit
// applies from the next quota day.
func (h *AdminHandler) UpdateUserPackage(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid user ID")
		return
	}

	var payload struct {
		Package string `json:"package"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	if err := h.auth.SetPackage(c.Request.Context(), userID, payload.Package); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "package": usecases.LimitsFor(payload.Package)})
}
