package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	config "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Config"
	container "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Container"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/controllers"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/health"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/middleware"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

// BackendAPI is everything the views ask of the backend client
type BackendAPI interface {
	controllers.AuthAPI
	controllers.DeviceAPI
	controllers.ProfileAPI
}

// Hub is the websocket side of the live view
type Hub interface {
	controllers.SocketServer
	controllers.ClientCounter
}

// Dependencies are the components the routes are built from
type Dependencies struct {
	Config      *config.Config
	Logger      *logger.Logger
	Sessions    middleware.SessionReader
	API         BackendAPI
	Poller      controllers.LivePoller
	Hub         Hub
	Health      *health.HealthChecker
	DefaultRate poller.RefreshRate
}

// FromContainer collects the dependencies out of a built container
func FromContainer(ctr *container.Container) Dependencies {
	return Dependencies{
		Config:      ctr.GetConfig(),
		Logger:      ctr.GetLogger(),
		Sessions:    ctr.GetSessionStore(),
		API:         ctr.GetClient(),
		Poller:      ctr.GetPoller(),
		Hub:         ctr.GetHub(),
		Health:      ctr.GetHealthChecker(),
		DefaultRate: ctr.DefaultRefreshRate(),
	}
}

// New builds the Gin engine serving every view
func New(d Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     d.Config.CORS.AllowedOrigins,
		AllowMethods:     d.Config.CORS.AllowedMethods,
		AllowHeaders:     d.Config.CORS.AllowedHeaders,
		AllowCredentials: d.Config.CORS.AllowCredentials,
		MaxAge:           time.Duration(d.Config.CORS.MaxAge) * time.Second,
	}
	if len(corsConfig.AllowOrigins) > 0 {
		router.Use(cors.New(corsConfig))
	}

	sessions := middleware.NewSessionMiddleware(d.Sessions)

	authController := controllers.NewAuthController(d.API, d.Sessions, d.Poller, d.Logger.WithComponent("auth_views"))
	deviceController := controllers.NewDeviceController(d.API, d.Poller, d.Logger.WithComponent("device_views"), sessions)
	liveController := controllers.NewLiveController(d.API, d.Poller, d.Hub, d.DefaultRate, d.Logger.WithComponent("live_views"), sessions)
	profileController := controllers.NewProfileController(d.API, d.Logger.WithComponent("profile_views"), sessions)
	healthController := controllers.NewHealthController(d.Health, d.Poller, d.Hub, d.Logger.WithComponent("health"))

	// Register all routes
	authController.RegisterRoutes(router)
	deviceController.RegisterRoutes(router)
	liveController.RegisterRoutes(router)
	profileController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)

	router.GET("/", func(c *gin.Context) {
		target := middleware.LoginPath
		if _, ok := d.Sessions.Current(); ok {
			target = middleware.DashboardPath
		}
		c.Redirect(http.StatusSeeOther, target)
	})

	return router
}
