package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatQuota/internal/counter"
	"github.com/router-for-me/ChatQuota/internal/quota"
)

// ResetHandler serves administrative counter resets.
type ResetHandler struct {
	engine *quota.Engine
}

// NewResetHandler constructs a ResetHandler.
func NewResetHandler(engine *quota.Engine) *ResetHandler {
	return &ResetHandler{engine: engine}
}

type resetRequest struct {
	Scope string `json:"scope" binding:"required"`
	ID    string `json:"id"`
}

// Reset clears counters for the current period: the whole deployment,
// one identity, or one group including every member counter.
func (h *ResetHandler) Reset(c *gin.Context) {
	var req resetRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	var removed int64
	var errReset error
	switch strings.ToLower(strings.TrimSpace(req.Scope)) {
	case "all":
		removed, errReset = h.engine.ResetAll(c.Request.Context())
	case "user":
		if strings.TrimSpace(req.ID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id required for user reset"})
			return
		}
		removed, errReset = h.engine.ResetIdentity(c.Request.Context(), req.ID)
	case "group":
		if strings.TrimSpace(req.ID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id required for group reset"})
			return
		}
		removed, errReset = h.engine.ResetGroup(c.Request.Context(), req.ID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be all, user or group"})
		return
	}

	if errReset != nil {
		if errors.Is(errReset, counter.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota store unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
