package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/peyk/internal/auth"
	"github.com/4xmen/peyk/internal/models"
)

type AuthHandler struct {
	authSvc *auth.Service
}

func NewAuthHandler(authSvc *auth.Service) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token    string          `json:"token"`
	UserID   int64           `json:"user_id"`
	Username string          `json:"username"`
	Kind     models.UserKind `json:"kind"`
}

// Register creates a new user account
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	kind, err := models.ParseUserKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid user kind")})
		return
	}

	userID, err := h.authSvc.Register(req.Username, req.Password, kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __(err.Error())})
		return
	}

	token, err := h.authSvc.GenerateToken(models.Identity{ID: userID, Kind: kind, Name: req.Username}, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to generate token")})
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token:    token,
		UserID:   userID,
		Username: req.Username,
		Kind:     kind,
	})
}

// Login authenticates a user and returns a token
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	token, who, err := h.authSvc.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __(err.Error())})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token:    token,
		UserID:   who.ID,
		Username: req.Username,
		Kind:     who.Kind,
	})
}

// Me returns the caller's identity as the auth middleware resolved it.
func (h *AuthHandler) Me(c *gin.Context) {
	who, ok := identityFrom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, who)
}

// AuthMiddleware validates the JWT and stores the caller's Identity for
// everything downstream. No handler past this point reads auth state from
// anywhere else.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := ""

		if authHeader != "" {
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				token = authHeader[7:]
			}
		}

		// EventSource cannot set headers, so the stream endpoint passes
		// the token as a query parameter.
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": __("missing authorization token")})
			c.Abort()
			return
		}

		who, err := h.authSvc.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": __("invalid token")})
			c.Abort()
			return
		}

		exists, err := h.authSvc.UserExists(who.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to validate user")})
			c.Abort()
			return
		}
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": __("user not found")})
			c.Abort()
			return
		}

		c.Set("identity", *who)
		c.Next()
	}
}
