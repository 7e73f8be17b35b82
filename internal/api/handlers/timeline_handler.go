package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/services"
	"github.com/selfscribe/selfscribe/internal/utils"
)

type TimelineHandler struct {
	svc services.TimelineService
}

func NewTimelineHandler(svc services.TimelineService) *TimelineHandler {
	return &TimelineHandler{svc: svc}
}

type TimelineResponse struct {
	Items   []models.TimelineEntry `json:"items"`
	HasMore bool                   `json:"has_more"`
}

func (h *TimelineHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	beforeID := int64(-1)
	if raw := c.Query("before_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "TimelineHandler.List", "before_id must be an integer", err))
			return
		}
		beforeID = v
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "TimelineHandler.List", "limit must be an integer", err))
			return
		}
		limit = v
	}

	items, hasMore, err := h.svc.List(c.Request.Context(), userID, beforeID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []models.TimelineEntry{}
	}

	c.JSON(http.StatusOK, TimelineResponse{Items: items, HasMore: hasMore})
}

func (h *TimelineHandler) Search(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	items, err := h.svc.Search(c.Request.Context(), userID, c.Query("q"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []models.TimelineEntry{}
	}

	c.JSON(http.StatusOK, TimelineResponse{Items: items, HasMore: false})
}
