package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/push"
	"github.com/4xmen/peyk/internal/store"
)

type PushHandler struct {
	store    *store.Store
	notifier *push.Notifier
}

func NewPushHandler(s *store.Store, notifier *push.Notifier) *PushHandler {
	return &PushHandler{store: s, notifier: notifier}
}

type SubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// VAPIDKey hands the public key to the frontend; 404 when push is not
// configured so clients skip subscribing.
func (h *PushHandler) VAPIDKey(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": __("push notifications not configured")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.notifier.VAPIDPublicKey()})
}

// Subscribe stores the caller's Web Push subscription.
func (h *PushHandler) Subscribe(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	if err := h.store.SavePushSubscription(c.Request.Context(), who, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// Unsubscribe revokes a subscription by endpoint.
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	if err := h.store.RemovePushSubscription(c.Request.Context(), who, req.Endpoint); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
