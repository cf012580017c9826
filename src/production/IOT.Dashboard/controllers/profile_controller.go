package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/middleware"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
)

type ProfileAPI interface {
	Profile(ctx context.Context) (api_models.Profile, error)
}

// ProfileController serves the profile page
type ProfileController struct {
	api      ProfileAPI
	logger   *logger.Logger
	sessions *middleware.SessionMiddleware
}

func NewProfileController(api ProfileAPI, logger *logger.Logger, sessions *middleware.SessionMiddleware) *ProfileController {
	return &ProfileController{api: api, logger: logger, sessions: sessions}
}

func (c *ProfileController) RegisterRoutes(router *gin.Engine) {
	router.GET("/profile", c.sessions.RequireSession(), c.GetProfile)
}

func (c *ProfileController) GetProfile(ctx *gin.Context) {
	profile, err := c.api.Profile(ctx.Request.Context())
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, profile)
}
