package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatQuota/internal/config"
	"github.com/router-for-me/ChatQuota/internal/security"
)

// AuthHandler handles dashboard login.
type AuthHandler struct {
	store *config.Store
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(store *config.Store) *AuthHandler {
	return &AuthHandler{store: store}
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login exchanges the dashboard password for a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	web := h.store.Config().Web
	if web.Password == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "no dashboard password configured"})
		return
	}
	if !security.VerifyPassword(web.Password, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token, errSign := security.SignAdminToken(web.JWTSecret, web.JWTExpiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(web.JWTExpiry.Seconds()),
	})
}
