package main

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luizcarelo/nps-saas/internal/auth"
	"github.com/luizcarelo/nps-saas/internal/dashboard"
	"github.com/luizcarelo/nps-saas/internal/dispatch"
	"github.com/luizcarelo/nps-saas/internal/gateway"
	"github.com/luizcarelo/nps-saas/internal/survey"
	"github.com/luizcarelo/nps-saas/pkg/logger"
	"github.com/luizcarelo/nps-saas/pkg/utils"
)

type appDeps struct {
	authMW    gin.HandlerFunc
	webhook   *gateway.WebhookHandler
	scheduler *dispatch.Scheduler
	board     *dashboard.Service
	hub       *dashboard.Hub
	gw        gateway.Gateway
	db        *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps appDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Gateway callbacks (public).
	// NOTE: This endpoint should be protected by gateway signature validation in production.
	r.POST("/webhooks/gateway/message", deps.webhook.HandleInbound)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		v1.POST("/campaigns/dispatch", func(c *gin.Context) {
			tenantID, err := auth.TenantID(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant missing"})
				return
			}

			var req dispatch.Request
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
				return
			}
			// Tenant scope comes from the token, never from the body.
			req.TenantID = tenantID

			if err := deps.scheduler.Start(c.Request.Context(), req); err != nil {
				switch {
				case errors.Is(err, survey.ErrInvalidArgument):
					c.JSON(http.StatusBadRequest, gin.H{"error": "campaign id and contacts are required"})
				case errors.Is(err, dispatch.ErrTooManyBatches):
					c.JSON(http.StatusConflict, gin.H{"error": "tenant batch limit reached"})
				default:
					logger.FromGin(c).Error("dispatch start failed", "err", err)
					c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
				}
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "processing", "contacts": len(req.Contacts)})
		})

		v1.GET("/dashboard/metrics", func(c *gin.Context) {
			tenantID, err := auth.TenantID(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant missing"})
				return
			}
			update, err := deps.board.Snapshot(c.Request.Context(), tenantID)
			if err != nil {
				logger.FromGin(c).Error("metrics snapshot failed", "err", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
				return
			}
			c.JSON(http.StatusOK, update)
		})

		v1.GET("/dashboard/ws", deps.hub.HandleWS)

		v1.GET("/gateway/status", func(c *gin.Context) {
			tenantID, err := auth.TenantID(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "tenant missing"})
				return
			}
			status, err := deps.gw.SessionStatus(c.Request.Context(), tenantID)
			if err != nil {
				logger.FromGin(c).Warn("gateway status check failed", "err", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "gateway unavailable"})
				return
			}
			c.JSON(http.StatusOK, status)
		})
	}
}
