package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/apperr"
	"github.com/4xmen/peyk/internal/models"
)

// identityFrom pulls the caller set by the auth middleware. Handlers behind
// the middleware can rely on it; the unauthorized branch is for routes
// wired up wrong.
func identityFrom(c *gin.Context) (models.Identity, bool) {
	v, exists := c.Get("identity")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return models.Identity{}, false
	}
	who, ok := v.(models.Identity)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return models.Identity{}, false
	}
	return who, true
}

// respondError maps an error to its HTTP status. Internal errors go to the
// client as a generic message; the real cause lands in the server log via
// c.Error.
func respondError(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindUpload:
		c.JSON(http.StatusBadRequest, gin.H{"error": __(apperr.Message(err))})
	case apperr.KindPermission:
		c.JSON(http.StatusForbidden, gin.H{"error": __(apperr.Message(err))})
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": __(apperr.Message(err))})
	case apperr.KindConnection:
		c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": __(apperr.Message(err))})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
	}
}
