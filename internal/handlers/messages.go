package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/store"
)

// parseKindLoose tolerates an empty kind; the store validates it where it
// actually matters.
func parseKindLoose(s string) models.UserKind {
	return models.UserKind(s)
}

type MessageHandler struct {
	store *store.Store
}

func NewMessageHandler(s *store.Store) *MessageHandler {
	return &MessageHandler{store: s}
}

// List returns one ascending page of a conversation's messages.
func (h *MessageHandler) List(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	conversationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid conversation id")})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := h.store.GetMessages(c.Request.Context(), who, conversationID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type SendMessageJSON struct {
	ConversationID int64  `json:"conversation_id"`
	RecipientID    int64  `json:"recipient_id"`
	RecipientKind  string `json:"recipient_kind"`
	Content        string `json:"content"`
	Category       string `json:"category"`
	Priority       string `json:"priority"`
	ReplyToID      *int64 `json:"reply_to_id"`
}

// Send accepts either a JSON body or a multipart form with files. The
// multipart path is how attachments come in.
func (h *MessageHandler) Send(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	var req store.SendMessageRequest
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		parsed, err := h.parseMultipart(c)
		if err != nil {
			respondError(c, err)
			return
		}
		req = *parsed
	} else {
		var body SendMessageJSON
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
			return
		}
		req = store.SendMessageRequest{
			ConversationID: body.ConversationID,
			RecipientID:    body.RecipientID,
			RecipientKind:  parseKindLoose(body.RecipientKind),
			Content:        body.Content,
			Category:       body.Category,
			Priority:       body.Priority,
			ReplyToID:      body.ReplyToID,
		}
	}

	msg, err := h.store.SendMessage(c.Request.Context(), who, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) parseMultipart(c *gin.Context) (*store.SendMessageRequest, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	req := &store.SendMessageRequest{
		Content:       c.PostForm("content"),
		Category:      c.PostForm("category"),
		Priority:      c.PostForm("priority"),
		RecipientKind: parseKindLoose(c.PostForm("recipient_kind")),
	}
	req.ConversationID, _ = strconv.ParseInt(c.PostForm("conversation_id"), 10, 64)
	req.RecipientID, _ = strconv.ParseInt(c.PostForm("recipient_id"), 10, 64)
	if v := c.PostForm("reply_to_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			req.ReplyToID = &id
		}
	}

	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		// Read one byte past the cap so oversize files fail validation
		// instead of getting silently truncated.
		content, err := io.ReadAll(io.LimitReader(f, store.MaxFileSize+1))
		f.Close()
		if err != nil {
			return nil, err
		}
		req.Attachments = append(req.Attachments, store.AttachmentUpload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        int64(len(content)),
			Content:     content,
		})
	}

	return req, nil
}

// Delete soft-deletes the caller's own message.
func (h *MessageHandler) Delete(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message id")})
		return
	}

	if err := h.store.DeleteMessage(c.Request.Context(), who, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Search runs a full-text search over the caller's conversations.
func (h *MessageHandler) Search(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var filters store.SearchFilters
	if v := c.Query("category"); v != "" {
		category, err := models.ParseCategory(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message category")})
			return
		}
		filters.Category = &category
	}
	if v := c.Query("sender_kind"); v != "" {
		kind, err := models.ParseUserKind(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid user kind")})
			return
		}
		filters.SenderKind = &kind
	}

	messages, err := h.store.SearchMessages(c.Request.Context(), who, c.Query("q"), filters, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *MessageHandler) Pin(c *gin.Context) {
	h.messageAction(c, h.store.PinMessage)
}

func (h *MessageHandler) Unpin(c *gin.Context) {
	h.messageAction(c, h.store.UnpinMessage)
}

func (h *MessageHandler) messageAction(c *gin.Context, action func(ctx context.Context, who models.Identity, id int64) error) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message id")})
		return
	}

	if err := action(c.Request.Context(), who, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type ReactionRequest struct {
	Reaction string `json:"reaction" binding:"required"`
}

// React adds the caller's reaction to a message.
func (h *MessageHandler) React(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message id")})
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	if err := h.store.AddReaction(c.Request.Context(), who, id, req.Reaction); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Unreact removes the caller's own reaction.
func (h *MessageHandler) Unreact(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message id")})
		return
	}

	if err := h.store.RemoveReaction(c.Request.Context(), who, id, c.Query("reaction")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type ForwardRequest struct {
	TargetConversationID int64  `json:"target_conversation_id" binding:"required"`
	Note                 string `json:"note"`
}

// Forward copies a message into another of the caller's conversations.
func (h *MessageHandler) Forward(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message id")})
		return
	}

	var req ForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	msg, err := h.store.ForwardMessage(c.Request.Context(), who, id, req.TargetConversationID, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UploadAttachment attaches one multipart file to an existing message.
func (h *MessageHandler) UploadAttachment(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid message id")})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("file is required")})
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	content, err := io.ReadAll(io.LimitReader(f, store.MaxFileSize+1))
	f.Close()
	if err != nil {
		respondError(c, err)
		return
	}

	attachment, err := h.store.UploadAttachment(c.Request.Context(), who, id, store.AttachmentUpload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        int64(len(content)),
		Content:     content,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attachment)
}

// DownloadAttachment streams an attachment the caller may read.
func (h *MessageHandler) DownloadAttachment(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid attachment id")})
		return
	}

	attachment, body, err := h.store.OpenAttachment(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err)
		return
	}
	defer body.Close()

	c.Header("Content-Disposition", `attachment; filename="`+attachment.FileName+`"`)
	c.DataFromReader(http.StatusOK, attachment.FileSize, attachment.ContentType, body, nil)
}
