package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatQuota/internal/config"
)

// PolicyHandler serves the policy mutation endpoints. Every mutation
// goes through the config store, which validates, persists, and
// publishes the change atomically.
type PolicyHandler struct {
	store *config.Store
}

// NewPolicyHandler constructs a PolicyHandler.
func NewPolicyHandler(store *config.Store) *PolicyHandler {
	return &PolicyHandler{store: store}
}

// writeMutationError maps store errors onto status codes.
func writeMutationError(c *gin.Context, err error) {
	var perr *config.PolicyLoadError
	if errors.As(err, &perr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "configuration update failed"})
}

// GetConfig returns the full limits document and the store version.
func (h *PolicyHandler) GetConfig(c *gin.Context) {
	cfg := h.store.Config()
	c.JSON(http.StatusOK, gin.H{
		"version": h.store.Version(),
		"limits":  cfg.Limits,
	})
}

type putConfigRequest struct {
	Limits config.Limits `json:"limits"`
}

// PutConfig replaces the whole limits section.
func (h *PolicyHandler) PutConfig(c *gin.Context) {
	var req putConfigRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	cfg := h.store.Config()
	cfg.Limits = req.Limits
	if errReplace := h.store.Replace(cfg); errReplace != nil {
		writeMutationError(c, errReplace)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

type limitRequest struct {
	Limit *int `json:"limit" binding:"required"`
}

// SetUserLimit creates or updates a per-identity override.
func (h *PolicyHandler) SetUserLimit(c *gin.Context) {
	var req limitRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if errSet := h.store.SetUserLimit(c.Param("id"), *req.Limit); errSet != nil {
		writeMutationError(c, errSet)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

// ClearUserLimit removes a per-identity override.
func (h *PolicyHandler) ClearUserLimit(c *gin.Context) {
	if errClear := h.store.ClearUserLimit(c.Param("id")); errClear != nil {
		writeMutationError(c, errClear)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

// SetGroupLimit creates or updates a per-group override.
func (h *PolicyHandler) SetGroupLimit(c *gin.Context) {
	var req limitRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if errSet := h.store.SetGroupLimit(c.Param("id"), *req.Limit); errSet != nil {
		writeMutationError(c, errSet)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

// ClearGroupLimit removes a per-group override.
func (h *PolicyHandler) ClearGroupLimit(c *gin.Context) {
	if errClear := h.store.ClearGroupLimit(c.Param("id")); errClear != nil {
		writeMutationError(c, errClear)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SetGroupMode pins a group's counting mode.
func (h *PolicyHandler) SetGroupMode(c *gin.Context) {
	var req modeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if errSet := h.store.SetGroupMode(c.Param("id"), req.Mode); errSet != nil {
		writeMutationError(c, errSet)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

// ClearGroupMode reverts a group to shared counting.
func (h *PolicyHandler) ClearGroupMode(c *gin.Context) {
	if errClear := h.store.ClearGroupMode(c.Param("id")); errClear != nil {
		writeMutationError(c, errClear)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

// AddExempt marks an identity unlimited.
func (h *PolicyHandler) AddExempt(c *gin.Context) {
	if errAdd := h.store.AddExempt(c.Param("id")); errAdd != nil {
		writeMutationError(c, errAdd)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

// RemoveExempt clears an identity's exemption.
func (h *PolicyHandler) RemoveExempt(c *gin.Context) {
	if errRemove := h.store.RemoveExempt(c.Param("id")); errRemove != nil {
		writeMutationError(c, errRemove)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

type windowRequest struct {
	Start   string `json:"start" binding:"required"`
	End     string `json:"end" binding:"required"`
	Limit   int    `json:"limit"`
	Enabled bool   `json:"enabled"`
	Days    string `json:"days"`
}

// AddWindow appends a time window.
func (h *PolicyHandler) AddWindow(c *gin.Context) {
	var req windowRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	index, errAdd := h.store.AddWindow(config.Window{
		Start:   req.Start,
		End:     req.End,
		Limit:   req.Limit,
		Enabled: req.Enabled,
		Days:    req.Days,
	})
	if errAdd != nil {
		writeMutationError(c, errAdd)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version(), "index": index})
}

func windowIndex(c *gin.Context) (int, bool) {
	index, errParse := strconv.Atoi(strings.TrimSpace(c.Param("idx")))
	if errParse != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window index"})
		return 0, false
	}
	return index, true
}

// RemoveWindow deletes the window at :idx.
func (h *PolicyHandler) RemoveWindow(c *gin.Context) {
	index, ok := windowIndex(c)
	if !ok {
		return
	}
	if errRemove := h.store.RemoveWindow(index); errRemove != nil {
		writeMutationError(c, errRemove)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetWindowEnabled toggles the window at :idx.
func (h *PolicyHandler) SetWindowEnabled(c *gin.Context) {
	index, ok := windowIndex(c)
	if !ok {
		return
	}
	var req enabledRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if errSet := h.store.SetWindowEnabled(index, *req.Enabled); errSet != nil {
		writeMutationError(c, errSet)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.store.Version()})
}
