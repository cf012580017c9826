package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/middleware"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

// DeviceAPI is the part of the backend client the device views use
type DeviceAPI interface {
	ListDevices(ctx context.Context) ([]hardware_models.Device, error)
	GetDevice(ctx context.Context, deviceID int) (hardware_models.Device, error)
	CreateDevice(ctx context.Context, in api_models.DeviceInput) (hardware_models.Device, error)
	UpdateDevice(ctx context.Context, deviceID int, upd api_models.DeviceUpdate) (hardware_models.Device, error)
	DeleteDevice(ctx context.Context, deviceID int) error
	DeviceToken(ctx context.Context, deviceID int) (string, error)
	FetchHistory(ctx context.Context, deviceID int) ([]hardware_models.Reading, error)
}

// DeviceView is a device plus what the list and detail pages derive from it
type DeviceView struct {
	hardware_models.Device
	Online bool `json:"online"`
}

// DeviceController handles device management and history views
type DeviceController struct {
	api      DeviceAPI
	live     LivePoller
	logger   *logger.Logger
	sessions *middleware.SessionMiddleware
	now      func() time.Time
}

// NewDeviceController creates a new device controller
func NewDeviceController(api DeviceAPI, live LivePoller, logger *logger.Logger, sessions *middleware.SessionMiddleware) *DeviceController {
	return &DeviceController{
		api:      api,
		live:     live,
		logger:   logger,
		sessions: sessions,
		now:      time.Now,
	}
}

// RegisterRoutes registers the device routes with Gin
func (c *DeviceController) RegisterRoutes(router *gin.Engine) {
	router.GET(middleware.DashboardPath, c.sessions.RequireSession(), c.Dashboard)

	devices := router.Group("/devices", c.sessions.RequireSession())
	{
		devices.POST("", c.CreateDevice)
		devices.GET("/:id", c.GetDevice)
		devices.PATCH("/:id", c.UpdateDevice)
		devices.DELETE("/:id", c.DeleteDevice)
		devices.GET("/:id/token", c.DeviceToken)
		devices.GET("/:id/telemetry", c.Telemetry)
	}
}

func (c *DeviceController) view(d hardware_models.Device) DeviceView {
	return DeviceView{Device: d, Online: d.Online(c.now())}
}

// Dashboard lists the user's devices
func (c *DeviceController) Dashboard(ctx *gin.Context) {
	devices, err := c.api.ListDevices(ctx.Request.Context())
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, c.view(d))
	}

	user, _ := middleware.GetUserFromGinContext(ctx)
	ctx.JSON(http.StatusOK, gin.H{
		"user":    user,
		"devices": views,
	})
}

func (c *DeviceController) CreateDevice(ctx *gin.Context) {
	var req api_models.DeviceInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := c.api.CreateDevice(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"device":   c.view(device),
		"redirect": middleware.DashboardPath,
	})
}

func (c *DeviceController) GetDevice(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}

	device, err := c.api.GetDevice(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, c.view(device))
}

func (c *DeviceController) UpdateDevice(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}

	var req api_models.DeviceUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := c.api.UpdateDevice(ctx.Request.Context(), id, req)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, c.view(device))
}

// DeleteDevice removes the device and unmounts its live view if one is open
func (c *DeviceController) DeleteDevice(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}

	if err := c.api.DeleteDevice(ctx.Request.Context(), id); err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	if s := c.live.Snapshot(); s.DeviceID == id && s.State == poller.StatePolling {
		c.live.Stop()
	}

	ctx.JSON(http.StatusOK, gin.H{"redirect": middleware.DashboardPath})
}

func (c *DeviceController) DeviceToken(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}

	token, err := c.api.DeviceToken(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, api_models.DeviceToken{Token: token})
}

// Telemetry returns the device history ordered by timestamp
func (c *DeviceController) Telemetry(ctx *gin.Context) {
	id, ok := deviceParam(ctx)
	if !ok {
		return
	}

	readings, err := c.api.FetchHistory(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	series := poller.NewSeries(readings)
	body := gin.H{
		"deviceId": id,
		"readings": series,
		"latest":   nil,
	}
	if latest, ok := series.Latest(); ok {
		body["latest"] = latest
	}
	ctx.JSON(http.StatusOK, body)
}
