package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatQuota/internal/counter"
	"github.com/router-for-me/ChatQuota/internal/quota"

	log "github.com/sirupsen/logrus"
)

// Recorder persists one allowed consumption for later reporting. It
// must never block or fail the admission decision.
type Recorder func(identity, group string, shared bool)

// CheckHandler serves the dispatcher-facing admission surface.
type CheckHandler struct {
	engine *quota.Engine
	record Recorder
}

// NewCheckHandler constructs a CheckHandler. record may be nil.
func NewCheckHandler(engine *quota.Engine, record Recorder) *CheckHandler {
	return &CheckHandler{engine: engine, record: record}
}

type checkRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	GroupID string `json:"group_id"`
}

// Check consumes one quota unit and reports the decision. A store
// outage denies with 503: no admission without a countable unit.
func (h *CheckHandler) Check(c *gin.Context) {
	var req checkRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	decision, errCheck := h.engine.CheckAndConsume(c.Request.Context(), req.UserID, req.GroupID)
	if errCheck != nil {
		if errors.Is(errCheck, counter.ErrUnavailable) {
			log.WithError(errCheck).Error("check: counter store unavailable, denying")
			c.JSON(http.StatusServiceUnavailable, gin.H{"allowed": false, "error": "quota store unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota check failed"})
		return
	}

	switch decision.Verdict {
	case quota.VerdictExempt:
		c.JSON(http.StatusOK, gin.H{"allowed": true, "exempt": true})
	case quota.VerdictAllowed:
		if h.record != nil {
			h.record(req.UserID, req.GroupID, decision.Shared)
		}
		c.JSON(http.StatusOK, gin.H{
			"allowed":   true,
			"exempt":    false,
			"limit":     decision.Limit,
			"remaining": decision.Remaining,
			"remind":    decision.Remind,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"allowed":   false,
			"exempt":    false,
			"limit":     decision.Limit,
			"remaining": 0,
			"remind":    false,
		})
	}
}

// Status reports usage without consuming.
func (h *CheckHandler) Status(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	usage, errUsage := h.engine.Usage(c.Request.Context(), userID, c.Query("group_id"))
	if errUsage != nil {
		if errors.Is(errUsage, counter.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota store unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	if usage.Unlimited {
		c.JSON(http.StatusOK, gin.H{"unlimited": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unlimited": false,
		"limit":     usage.Limit,
		"used":      usage.Used,
		"remaining": usage.Remaining,
		"shared":    usage.Shared,
	})
}
