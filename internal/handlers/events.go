package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/sse"
)

// EventHandler is the door the attendance side of the platform uses to
// push live events into student and teacher streams.
type EventHandler struct {
	registry *sse.Registry
}

func NewEventHandler(registry *sse.Registry) *EventHandler {
	return &EventHandler{registry: registry}
}

type PublishEventRequest struct {
	ClassID int64           `json:"class_id"`
	UserID  int64           `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// PublishAttendance pushes an attendance_update to every connection
// subscribed to a class. Office only.
func (h *EventHandler) PublishAttendance(c *gin.Context) {
	h.publish(c, sse.EventAttendanceUpdate)
}

// PublishMetrics pushes a metrics_update to a class or a single user.
func (h *EventHandler) PublishMetrics(c *gin.Context) {
	h.publish(c, sse.EventMetricsUpdate)
}

func (h *EventHandler) publish(c *gin.Context, eventType sse.EventType) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	if who.Kind != models.KindOffice {
		c.JSON(http.StatusForbidden, gin.H{"error": __("only office can publish events")})
		return
	}

	var req PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}
	if req.ClassID == 0 && req.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("class_id or user_id is required")})
		return
	}

	ev := sse.Event{Type: eventType, Payload: req.Payload}
	if req.ClassID != 0 {
		h.registry.BroadcastToClass(req.ClassID, ev)
	}
	if req.UserID != 0 {
		h.registry.SendToUser(req.UserID, ev)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
