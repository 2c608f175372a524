package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/infrastructure"
	"github.com/faztycoding/grandstate/internal/repository"
	"github.com/faztycoding/grandstate/internal/usecases"
	"github.com/gin-gonic/gin"
)

type errorKind struct {
	target error
	status int
	code   string
}

// Order matters: typed errors match their broader sentinel too.
var errorKinds = []errorKind{
	{entities.ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"},
	{entities.ErrGroupLimitExceeded, http.StatusForbidden, "group_limit_exceeded"},
	{entities.ErrPropertyLimitExceeded, http.StatusForbidden, "property_limit_exceeded"},
	{entities.ErrSessionTransitionConflict, http.StatusConflict, "session_transition_conflict"},
	{entities.ErrSessionExpired, http.StatusConflict, "session_expired"},
	{entities.ErrNotConnected, http.StatusConflict, "not_connected"},
	{entities.ErrInvalidBatch, http.StatusBadRequest, "invalid_batch"},
	{entities.ErrBatchNotFound, http.StatusNotFound, "batch_not_found"},
	{entities.ErrBatchFinished, http.StatusConflict, "batch_finished"},
	{entities.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{entities.ErrExternalPostFailure, http.StatusBadGateway, "external_post_failure"},
	{infrastructure.ErrInteractiveLogin, http.StatusBadRequest, "interactive_login_unsupported"},
	{infrastructure.ErrNoStoredDevice, http.StatusConflict, "no_stored_device"},
	{usecases.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{usecases.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	{repository.ErrDuplicateUsername, http.StatusConflict, "username_taken"},
	{usecases.ErrUnknownPackage, http.StatusBadRequest, "unknown_package"},
	{usecases.ErrInvalidTimezone, http.StatusBadRequest, "invalid_timezone"},
	{repository.ErrPropertyOwner, http.StatusForbidden, "property_owner"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{context.Canceled, http.StatusGatewayTimeout, "timeout"},
}

// writeError maps domain errors to a status and a stable code.
func writeError(c *gin.Context, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			body := gin.H{"error": err.Error(), "code": k.code}
			addDetails(body, err)
			c.AbortWithStatusJSON(k.status, body)
			return
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal_error"})
}

func addDetails(body gin.H, err error) {
	var quota *entities.QuotaExceededError
	if errors.As(err, &quota) {
		body["remaining"] = quota.Remaining
		body["requested"] = quota.Requested
	}
	var limit *entities.GroupLimitError
	if errors.As(err, &limit) {
		body["max_groups"] = limit.Max
		body["requested"] = limit.Requested
		body["package"] = limit.PlanID
	}
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "bad_request"})
}
