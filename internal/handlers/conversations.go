package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/store"
)

type ConversationHandler struct {
	store *store.Store
}

func NewConversationHandler(s *store.Store) *ConversationHandler {
	return &ConversationHandler{store: s}
}

// List returns the caller's conversations. Filters and sort come from
// query parameters; everything is optional.
func (h *ConversationHandler) List(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	var filters store.ConversationFilters
	if kindStr := c.Query("kind"); kindStr != "" {
		kind, err := models.ParseUserKind(kindStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid user kind")})
			return
		}
		filters.OtherKind = &kind
	}
	filters.Unread = c.Query("unread") == "true"
	if v := c.Query("archived"); v != "" {
		b := v == "true"
		filters.Archived = &b
	}
	if v := c.Query("resolved"); v != "" {
		b := v == "true"
		filters.Resolved = &b
	}
	if v := c.Query("starred"); v != "" {
		b := v == "true"
		filters.Starred = &b
	}

	sortBy := store.ConversationSort(c.DefaultQuery("sort", string(store.SortRecent)))

	conversations, err := h.store.ListConversations(c.Request.Context(), who, filters, sortBy)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

type CreateConversationRequest struct {
	RecipientID   int64  `json:"recipient_id" binding:"required"`
	RecipientKind string `json:"recipient_kind" binding:"required"`
}

// Create looks up or creates the conversation with the given recipient.
// Calling it twice returns the same conversation.
func (h *ConversationHandler) Create(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	kind, err := models.ParseUserKind(req.RecipientKind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid user kind")})
		return
	}

	id, err := h.store.CreateConversation(c.Request.Context(), who, req.RecipientID, kind)
	if err != nil {
		respondError(c, err)
		return
	}

	conversation, err := h.store.GetConversation(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// Get returns one conversation the caller participates in.
func (h *ConversationHandler) Get(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid conversation id")})
		return
	}

	conversation, err := h.store.GetConversation(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (h *ConversationHandler) setFlag(c *gin.Context, apply func(who models.Identity, id int64, value bool) error) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid conversation id")})
		return
	}

	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	if err := apply(who, id, req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ConversationHandler) Pin(c *gin.Context) {
	h.setFlag(c, func(who models.Identity, id int64, v bool) error {
		return h.store.PinConversation(c.Request.Context(), who, id, v)
	})
}

func (h *ConversationHandler) Star(c *gin.Context) {
	h.setFlag(c, func(who models.Identity, id int64, v bool) error {
		return h.store.StarConversation(c.Request.Context(), who, id, v)
	})
}

func (h *ConversationHandler) Archive(c *gin.Context) {
	h.setFlag(c, func(who models.Identity, id int64, v bool) error {
		return h.store.ArchiveConversation(c.Request.Context(), who, id, v)
	})
}

func (h *ConversationHandler) Resolve(c *gin.Context) {
	h.setFlag(c, func(who models.Identity, id int64, v bool) error {
		return h.store.ResolveConversation(c.Request.Context(), who, id, v)
	})
}

func (h *ConversationHandler) Mute(c *gin.Context) {
	h.setFlag(c, func(who models.Identity, id int64, v bool) error {
		return h.store.MuteConversation(c.Request.Context(), who, id, v)
	})
}

// MarkRead marks the whole conversation read for the caller.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid conversation id")})
		return
	}

	if err := h.store.MarkRead(c.Request.Context(), who, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MarkUnread flags the conversation unread again for the caller.
func (h *ConversationHandler) MarkUnread(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid conversation id")})
		return
	}

	if err := h.store.MarkUnread(c.Request.Context(), who, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
