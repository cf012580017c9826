package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/health"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
)

// ClientCounter reports connected websocket clients
type ClientCounter interface {
	ClientCount() int
}

// HealthController handles health and stats requests
type HealthController struct {
	checker *health.HealthChecker
	poller  LivePoller
	hub     ClientCounter
	logger  *logger.Logger
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, p LivePoller, hub ClientCounter, logger *logger.Logger) *HealthController {
	return &HealthController{
		checker: checker,
		poller:  p,
		hub:     hub,
		logger:  logger,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	router.GET("/stats/live", c.LiveStats)
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	status, ready := c.checker.GetHealthStatus(checkCtx)
	if !ready {
		c.logger.WithField("checks", status["checks"]).Warn("readiness check failed")
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

// LiveStats reports the poller counters without the series itself
func (c *HealthController) LiveStats(ctx *gin.Context) {
	s := c.poller.Snapshot()
	ctx.JSON(http.StatusOK, gin.H{
		"state":         s.State,
		"deviceId":      s.DeviceID,
		"refreshRateMs": s.RefreshRate,
		"ticks":         s.Ticks,
		"failures":      s.Failures,
		"points":        len(s.Series),
		"lastUpdated":   s.LastUpdated,
		"clients":       c.hub.ClientCount(),
	})
}
