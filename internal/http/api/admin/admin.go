// Package admin wires the dashboard and check endpoints onto a gin
// engine.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatQuota/internal/config"
	handlers "github.com/router-for-me/ChatQuota/internal/http/api/admin/handlers"
	"github.com/router-for-me/ChatQuota/internal/quota"
	"github.com/router-for-me/ChatQuota/internal/report"
	"github.com/router-for-me/ChatQuota/internal/security"
)

// Deps carries everything the API surfaces.
type Deps struct {
	Store    *config.Store
	Engine   *quota.Engine
	Reporter *report.Reporter
	Health   handlers.HealthProbe
	Record   handlers.Recorder
}

// RegisterRoutes registers all routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Store == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.Health)
	r.GET("/healthz", healthHandler.Healthz)

	checkHandler := handlers.NewCheckHandler(deps.Engine, deps.Record)
	r.POST("/v0/check", checkHandler.Check)
	r.GET("/v0/status", checkHandler.Status)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(deps.Store)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(deps.Store))

	statsHandler := handlers.NewStatsHandler(deps.Reporter)
	authed.GET("/stats", statsHandler.Stats)
	authed.GET("/trends", statsHandler.Trends)
	authed.GET("/top", statsHandler.Top)
	authed.GET("/users", statsHandler.Users)
	authed.GET("/users/:id/history", statsHandler.UserHistory)
	authed.GET("/groups", statsHandler.Groups)

	policyHandler := handlers.NewPolicyHandler(deps.Store)
	authed.GET("/config", policyHandler.GetConfig)
	authed.PUT("/config", policyHandler.PutConfig)
	authed.PUT("/users/:id/limit", policyHandler.SetUserLimit)
	authed.DELETE("/users/:id/limit", policyHandler.ClearUserLimit)
	authed.PUT("/groups/:id/limit", policyHandler.SetGroupLimit)
	authed.DELETE("/groups/:id/limit", policyHandler.ClearGroupLimit)
	authed.PUT("/groups/:id/mode", policyHandler.SetGroupMode)
	authed.DELETE("/groups/:id/mode", policyHandler.ClearGroupMode)
	authed.POST("/exempt/:id", policyHandler.AddExempt)
	authed.DELETE("/exempt/:id", policyHandler.RemoveExempt)
	authed.POST("/windows", policyHandler.AddWindow)
	authed.DELETE("/windows/:idx", policyHandler.RemoveWindow)
	authed.PUT("/windows/:idx/enabled", policyHandler.SetWindowEnabled)

	resetHandler := handlers.NewResetHandler(deps.Engine)
	authed.POST("/reset", resetHandler.Reset)
}

// adminAuthMiddleware validates dashboard session tokens. When no
// dashboard password is configured the API is open, matching a fresh
// deployment before setup.
func adminAuthMiddleware(store *config.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		web := store.Config().Web
		if web.Password == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		if _, errJWT := security.ParseAdminToken(web.JWTSecret, token); errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
