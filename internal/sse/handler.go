package sse

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/models"
)

// ClassResolver maps a connecting user to the class whose events they
// should receive, or 0 for none. Students resolve through their
// enrollment; other kinds get no class subscription.
type ClassResolver func(who models.Identity) (int64, error)

type Handler struct {
	registry *Registry
	resolver ClassResolver
}

func NewHandler(registry *Registry, resolver ClassResolver) *Handler {
	return &Handler{registry: registry, resolver: resolver}
}

// Stream is the single server-push endpoint. One long-lived response per
// client; identity comes from the auth middleware, nothing else.
func (h *Handler) Stream(c *gin.Context) {
	whoVal, exists := c.Get("identity")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}
	who := whoVal.(models.Identity)

	if _, ok := c.Writer.(http.Flusher); !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("streaming unsupported")})
		return
	}

	var classID int64
	if h.resolver != nil {
		id, err := h.resolver(who)
		if err == nil {
			classID = id
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	conn := h.registry.Register(ctx, who.ID, classID)
	defer h.registry.Unregister(ctx, conn.ID())

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	// First frame tells the client its connection id.
	c.SSEvent(string(EventPing), PingPayload{Timestamp: time.Now(), ConnectionID: conn.ID()})
	c.Writer.Flush()
	h.registry.Heartbeat(ctx, conn.ID())

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-conn.Done():
			return false
		case ev := <-conn.Events():
			c.SSEvent(string(ev.Type), ev.Payload)
			return true
		case <-ticker.C:
			c.SSEvent(string(EventPing), PingPayload{Timestamp: time.Now(), ConnectionID: conn.ID()})
			h.registry.Heartbeat(ctx, conn.ID())
			return true
		}
	})
}
