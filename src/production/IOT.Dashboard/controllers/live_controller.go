package controllers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/live"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/middleware"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

// LivePoller is the control surface of the live poller
type LivePoller interface {
	Start(deviceID int, rate poller.RefreshRate) error
	SetRefreshRate(rate poller.RefreshRate) error
	Stop()
	Snapshot() poller.Snapshot
}

// DeviceGetter loads the device a live view is mounted on
type DeviceGetter interface {
	GetDevice(ctx context.Context, deviceID int) (hardware_models.Device, error)
}

// SocketServer upgrades a request into a live snapshot stream
type SocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, deviceID int)
}

// LiveController mounts, reconfigures and unmounts the live view
type LiveController struct {
	api         DeviceGetter
	poller      LivePoller
	hub         SocketServer
	defaultRate poller.RefreshRate
	logger      *logger.Logger
	sessions    *middleware.SessionMiddleware
}

// NewLiveController creates a new live controller
func NewLiveController(api DeviceGetter, p LivePoller, hub SocketServer, defaultRate poller.RefreshRate, logger *logger.Logger, sessions *middleware.SessionMiddleware) *LiveController {
	if !defaultRate.Valid() {
		defaultRate = poller.DefaultRate
	}
	return &LiveController{
		api:         api,
		poller:      p,
		hub:         hub,
		defaultRate: defaultRate,
		logger:      logger,
		sessions:    sessions,
	}
}

// RegisterRoutes registers the live routes with Gin
func (c *LiveController) RegisterRoutes(router *gin.Engine) {
	lv := router.Group("/devices/:id/live", c.sessions.RequireSession())
	{
		lv.GET("", c.Mount)
		lv.PUT("/rate", c.SetRate)
		lv.DELETE("", c.Unmount)
		lv.GET("/ws", c.Stream)
		lv.GET("/chart/:metric", c.Chart)
	}
}

type liveResponse struct {
	Device   hardware_models.Device `json:"device"`
	Snapshot poller.Snapshot        `json:"snapshot"`
	Rates    []int                  `json:"rates"`
}

func rateOptions() []int {
	out := make([]int, len(poller.Rates))
	for i, r := range poller.Rates {
		out[i] = r.Milliseconds()
	}
	return out
}

// Mount starts polling the device. Mounting the view that is already
// running with the same rate returns its snapshot without restarting it.
func (c *LiveController) Mount(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}

	rate := c.defaultRate
	if q := ctx.Query("rate"); q != "" {
		r, ok := parseRate(ctx, q)
		if !ok {
			return
		}
		rate = r
	}

	device, err := c.api.GetDevice(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	s := c.poller.Snapshot()
	if s.State != poller.StatePolling || s.DeviceID != id || s.RefreshRate != rate {
		if err := c.poller.Start(id, rate); err != nil {
			ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s = c.poller.Snapshot()
	}

	ctx.JSON(http.StatusOK, liveResponse{Device: device, Snapshot: s, Rates: rateOptions()})
}

type rateRequest struct {
	RateMs int `json:"rateMs" binding:"required"`
}

// SetRate swaps the interval of the running live view
func (c *LiveController) SetRate(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}

	var req rateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rate, ok := parseRate(ctx, strconv.Itoa(req.RateMs))
	if !ok {
		return
	}

	if s := c.poller.Snapshot(); s.DeviceID != id || s.State != poller.StatePolling {
		ctx.JSON(http.StatusConflict, gin.H{"error": "live view is not mounted for this device"})
		return
	}
	if err := c.poller.SetRefreshRate(rate); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, c.poller.Snapshot())
}

// Unmount stops polling. Unmounting a device that is not live is a no-op.
func (c *LiveController) Unmount(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}

	if s := c.poller.Snapshot(); s.DeviceID == id {
		c.poller.Stop()
	}
	ctx.Status(http.StatusNoContent)
}

// Stream pushes every applied snapshot for the device over a websocket
func (c *LiveController) Stream(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}
	c.hub.ServeWS(ctx.Writer, ctx.Request, id)
}

// Chart renders the recent history window of one metric as a PNG
func (c *LiveController) Chart(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}
	metric, ok := poller.ParseMetric(ctx.Param("metric"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "metric must be temperature, humidity or battery"})
		return
	}

	s := c.poller.Snapshot()
	if s.DeviceID != id || s.State != poller.StatePolling {
		ctx.JSON(http.StatusConflict, gin.H{"error": "live view is not mounted for this device"})
		return
	}

	var buf bytes.Buffer
	if err := live.RenderChart(s.Recent, metric, &buf); err != nil {
		if errors.Is(err, live.ErrNotEnoughPoints) {
			ctx.Status(http.StatusNoContent)
			return
		}
		c.logger.WithError(err).WithField("metric", string(metric)).Error("failed to render chart")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render chart"})
		return
	}

	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, "image/png", buf.Bytes())
}

func parseRate(ctx *gin.Context, raw string) (poller.RefreshRate, bool) {
	ms, err := strconv.Atoi(raw)
	if err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": "rate must be a number of milliseconds", "rates": rateOptions()})
		return 0, false
	}
	rate, err := poller.ParseRefreshRate(ms)
	if err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "rates": rateOptions()})
		return 0, false
	}
	return rate, true
}
