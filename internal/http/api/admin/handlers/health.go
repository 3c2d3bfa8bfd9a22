package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthProbe checks the liveness of the service's dependencies.
type HealthProbe func(ctx context.Context) error

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	probe HealthProbe
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(probe HealthProbe) *HealthHandler {
	return &HealthHandler{probe: probe}
}

// Healthz reports service health, degrading to 503 when a dependency
// is unreachable.
func (h *HealthHandler) Healthz(c *gin.Context) {
	if h.probe != nil {
		if err := h.probe(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
