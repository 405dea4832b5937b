package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/store"
)

type ScheduledHandler struct {
	store *store.Store
}

func NewScheduledHandler(s *store.Store) *ScheduledHandler {
	return &ScheduledHandler{store: s}
}

type ScheduleJSON struct {
	RecipientID   int64     `json:"recipient_id" binding:"required"`
	RecipientKind string    `json:"recipient_kind" binding:"required"`
	Content       string    `json:"content" binding:"required"`
	Category      string    `json:"category"`
	Priority      string    `json:"priority"`
	ScheduledFor  time.Time `json:"scheduled_for" binding:"required"`
}

// Create schedules a message for future delivery.
func (h *ScheduledHandler) Create(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	var body ScheduleJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	sm, err := h.store.ScheduleMessage(c.Request.Context(), who, store.ScheduleRequest{
		RecipientID:   body.RecipientID,
		RecipientKind: models.UserKind(body.RecipientKind),
		Content:       body.Content,
		Category:      body.Category,
		Priority:      body.Priority,
		ScheduledFor:  body.ScheduledFor,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sm)
}

// List returns the caller's pending scheduled messages.
func (h *ScheduledHandler) List(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	scheduled, err := h.store.ListScheduled(c.Request.Context(), who)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": scheduled})
}

// Cancel cancels one pending scheduled message.
func (h *ScheduledHandler) Cancel(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	if err := h.store.CancelScheduled(c.Request.Context(), who, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
