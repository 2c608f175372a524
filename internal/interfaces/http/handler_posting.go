package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/usecases"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PostingHandler serves quota status, batch submission, history and the
// user's group and property catalog.
type PostingHandler struct {
	status     *usecases.StatusUsecase
	catalog    *usecases.CatalogUsecase
	dispatcher *usecases.BatchDispatcher
}

func NewPostingHandler(status *usecases.StatusUsecase, catalog *usecases.CatalogUsecase, dispatcher *usecases.BatchDispatcher) *PostingHandler {
	return &PostingHandler{status: status, catalog: catalog, dispatcher: dispatcher}
}

func (h *PostingHandler) RegisterRoutes(api *gin.RouterGroup) {
	p := api.Group("/posting")
	{
		p.GET("/today-status", h.TodayStatus)
		p.POST("/batches", h.SubmitBatch)
		p.GET("/batches/:id", h.GetBatch)
		p.POST("/batches/:id/cancel", h.CancelBatch)
		p.GET("/history", h.History)

		p.GET("/groups", h.ListGroups)
		p.POST("/groups", h.SaveGroup)
		p.DELETE("/groups/:group_id", h.DeleteGroup)

		p.GET("/properties", h.ListProperties)
		p.PUT("/properties/:id", h.SaveProperty)
	}
}

// TodayStatus returns the quota dashboard. The package query parameter is
// accepted for older clients; the stored plan is authoritative.
func (h *PostingHandler) TodayStatus(c *gin.Context) {
	status, err := h.status.TodayStatus(c.Request.Context(), getUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type submitBatchRequest struct {
	PropertyID string   `json:"property_id"`
	GroupIDs   []string `json:"group_ids"`
	Async      bool     `json:"async"`
}

func (h *PostingHandler) SubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if !ValidPropertyID(req.PropertyID) {
		badRequest(c, "Invalid property_id")
		return
	}
	if len(req.GroupIDs) > MaxBatchGroups {
		badRequest(c, "Too many groups")
		return
	}
	for _, id := range req.GroupIDs {
		if !ValidGroupID(id) {
			badRequest(c, "Invalid group id: "+TruncateString(SanitizeString(id), MaxGroupIDLength))
			return
		}
	}

	userID := getUserID(c)
	if req.Async {
		run, err := h.dispatcher.Enqueue(c.Request.Context(), userID, req.PropertyID, req.GroupIDs)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, run)
		return
	}

	result, err := h.dispatcher.SubmitBatch(c.Request.Context(), userID, req.PropertyID, req.GroupIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// batchID rejects ids that cannot name a batch
func batchID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(c, entities.ErrBatchNotFound)
		return "", false
	}
	return id, true
}

func (h *PostingHandler) GetBatch(c *gin.Context) {
	id, ok := batchID(c)
	if !ok {
		return
	}
	run, err := h.dispatcher.Batch(c.Request.Context(), getUserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *PostingHandler) CancelBatch(c *gin.Context) {
	id, ok := batchID(c)
	if !ok {
		return
	}
	if err := h.dispatcher.Cancel(c.Request.Context(), getUserID(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel_requested"})
}

func (h *PostingHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	propertyID := c.Query("property_id")
	if propertyID != "" && !ValidPropertyID(propertyID) {
		badRequest(c, "Invalid property_id")
		return
	}
	attempts, err := h.status.History(c.Request.Context(), getUserID(c), propertyID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (h *PostingHandler) ListGroups(c *gin.Context) {
	groups, err := h.catalog.ListGroups(c.Request.Context(), getUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *PostingHandler) SaveGroup(c *gin.Context) {
	var req struct {
		GroupID string `json:"group_id"`
		Name    string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if !ValidGroupID(req.GroupID) {
		badRequest(c, "Invalid group_id")
		return
	}
	name := TruncateString(SanitizeString(strings.TrimSpace(req.Name)), MaxTitleLength)

	group, err := h.catalog.SaveGroup(c.Request.Context(), getUserID(c), req.GroupID, name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *PostingHandler) DeleteGroup(c *gin.Context) {
	if err := h.catalog.DeleteGroup(c.Request.Context(), getUserID(c), c.Param("group_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *PostingHandler) ListProperties(c *gin.Context) {
	properties, err := h.catalog.ListProperties(c.Request.Context(), getUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"properties": properties})
}

func (h *PostingHandler) SaveProperty(c *gin.Context) {
	id := c.Param("id")
	if !ValidPropertyID(id) {
		badRequest(c, "Invalid property id")
		return
	}
	var req struct {
		Title   string `json:"title"`
		Caption string `json:"caption"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	p := &entities.Property{
		ID:      id,
		UserID:  getUserID(c),
		Title:   TruncateString(SanitizeString(req.Title), MaxTitleLength),
		Caption: TruncateString(SanitizeString(req.Caption), MaxCaptionLength),
	}
	if err := h.catalog.SaveProperty(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
