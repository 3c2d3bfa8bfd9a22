package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatQuota/internal/report"
	"github.com/router-for-me/ChatQuota/internal/trend"
)

// StatsHandler serves the dashboard's read-only views.
type StatsHandler struct {
	reporter *report.Reporter
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(reporter *report.Reporter) *StatsHandler {
	return &StatsHandler{reporter: reporter}
}

// Stats returns aggregate usage, live for today or from the snapshot
// store for a past ?date=.
func (h *StatsHandler) Stats(c *gin.Context) {
	stats, errStats := h.reporter.UsageStats(c.Request.Context(), strings.TrimSpace(c.Query("date")))
	if errStats != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats computation failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Trends returns the snapshot series for ?period=day|week|month.
func (h *StatsHandler) Trends(c *gin.Context) {
	period := report.Period(strings.TrimSpace(c.Query("period")))
	snapshots, errTrend := h.reporter.Trend(c.Request.Context(), period)
	if errTrend != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trend lookup failed"})
		return
	}
	if snapshots == nil {
		snapshots = []trend.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "days": period.Days(), "trends": snapshots})
}

// Top returns the busiest identities, ?count= bounded to 100.
func (h *StatsHandler) Top(c *gin.Context) {
	count := 10
	if raw := strings.TrimSpace(c.Query("count")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
			return
		}
		count = parsed
	}
	rows, errTop := h.reporter.Top(c.Request.Context(), count)
	if errTop != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "top lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"top": rows})
}

// Users returns the per-identity dashboard rows.
func (h *StatsHandler) Users(c *gin.Context) {
	rows, errUsers := h.reporter.Users(c.Request.Context())
	if errUsers != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": rows})
}

// UserHistory returns one identity's per-day consumption from the
// usage history, ?days= bounded to 365.
func (h *StatsHandler) UserHistory(c *gin.Context) {
	days := 7
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 1 || parsed > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
			return
		}
		days = parsed
	}
	identity := c.Param("id")
	counts, errHistory := h.reporter.IdentityHistory(c.Request.Context(), identity, days)
	if errHistory != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "days": days, "history": counts})
}

// Groups returns the per-group dashboard rows.
func (h *StatsHandler) Groups(c *gin.Context) {
	rows, errGroups := h.reporter.Groups(c.Request.Context())
	if errGroups != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "group listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": rows})
}
