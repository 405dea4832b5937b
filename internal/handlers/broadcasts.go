package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/models"
	"github.com/4xmen/peyk/internal/store"
)

type BroadcastHandler struct {
	store *store.Store
}

func NewBroadcastHandler(s *store.Store) *BroadcastHandler {
	return &BroadcastHandler{store: s}
}

type BroadcastJSON struct {
	Content    string `json:"content"`
	Category   string `json:"category"`
	Priority   string `json:"priority"`
	Criteria   string `json:"criteria" binding:"required"`
	ClassName  string `json:"class_name"`
	Session    string `json:"session"`
	Department string `json:"department"`
}

// Send resolves the criteria and fans the message out. The response always
// carries the delivery counters and any failed recipients, so the client
// can offer a retry.
func (h *BroadcastHandler) Send(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	var req store.BroadcastRequest
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		parsed, err := h.parseMultipart(c)
		if err != nil {
			respondError(c, err)
			return
		}
		req = *parsed
	} else {
		var body BroadcastJSON
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
			return
		}
		req = store.BroadcastRequest{
			Content:  body.Content,
			Category: body.Category,
			Priority: body.Priority,
			Criteria: models.BroadcastCriteria{
				Type:       models.CriteriaType(body.Criteria),
				ClassName:  body.ClassName,
				Session:    body.Session,
				Department: body.Department,
			},
		}
	}

	b, err := h.store.SendBroadcast(c.Request.Context(), who, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, b)
}

func (h *BroadcastHandler) parseMultipart(c *gin.Context) (*store.BroadcastRequest, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	req := &store.BroadcastRequest{
		Content:  c.PostForm("content"),
		Category: c.PostForm("category"),
		Priority: c.PostForm("priority"),
		Criteria: models.BroadcastCriteria{
			Type:       models.CriteriaType(c.PostForm("criteria")),
			ClassName:  c.PostForm("class_name"),
			Session:    c.PostForm("session"),
			Department: c.PostForm("department"),
		},
	}

	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
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

// History lists the caller's broadcasts, newest first.
func (h *BroadcastHandler) History(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	broadcasts, err := h.store.BroadcastHistory(c.Request.Context(), who)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": broadcasts})
}

// Get returns one broadcast with its failed recipients.
func (h *BroadcastHandler) Get(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	b, err := h.store.GetBroadcast(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Retry re-delivers to every recipient whose delivery failed.
func (h *BroadcastHandler) Retry(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}

	b, err := h.store.RetryFailedDeliveries(c.Request.Context(), who, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
