package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	client "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Client"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/middleware"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
)

// respondError maps a client error onto the response a view expects
func respondError(ctx *gin.Context, log *logger.Logger, err error) {
	var apiErr *client.APIError
	message := err.Error()
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}

	switch {
	case errors.Is(err, client.ErrUnauthorized), errors.Is(err, client.ErrNotAuthenticated):
		middleware.RedirectToLogin(ctx)
	case errors.Is(err, client.ErrForbidden):
		ctx.JSON(http.StatusForbidden, gin.H{"error": message})
	case errors.Is(err, client.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": message, "redirect": middleware.DashboardPath})
	case errors.Is(err, client.ErrValidation):
		body := gin.H{"error": message}
		if apiErr != nil && apiErr.Details != nil {
			body["details"] = apiErr.Details
		}
		ctx.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, client.ErrRejected):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": message})
	default:
		log.WithError(err).WithField("path", ctx.FullPath()).Error("backend request failed")
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "Backend unavailable, try again", "detail": message})
	}
}

// deviceParam reads the :id path parameter
func deviceParam(ctx *gin.Context) (int, bool) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return 0, false
	}
	return id, true
}
