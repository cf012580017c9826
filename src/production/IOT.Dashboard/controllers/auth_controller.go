package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	client "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Client"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/middleware"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
)

// AuthAPI is the part of the backend client the auth views use
type AuthAPI interface {
	Login(ctx context.Context, creds api_models.Credentials) (api_models.AuthResponse, error)
	Register(ctx context.Context, creds api_models.Credentials) (api_models.AuthResponse, error)
	Logout(ctx context.Context) error
}

// Stopper is anything that must stop when the user logs out
type Stopper interface {
	Stop()
}

// AuthController handles the login entry point and session changes
type AuthController struct {
	api      AuthAPI
	sessions middleware.SessionReader
	live     Stopper
	logger   *logger.Logger
}

// NewAuthController creates a new auth controller
func NewAuthController(api AuthAPI, sessions middleware.SessionReader, live Stopper, logger *logger.Logger) *AuthController {
	return &AuthController{
		api:      api,
		sessions: sessions,
		live:     live,
		logger:   logger,
	}
}

// RegisterRoutes registers the auth routes with Gin
func (h *AuthController) RegisterRoutes(router *gin.Engine) {
	router.GET(middleware.LoginPath, h.LoginPage)

	auth := router.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/register", h.Register)
		auth.POST("/logout", h.Logout)
	}
}

// LoginPage is the entry point every unauthorized response redirects to
func (h *AuthController) LoginPage(c *gin.Context) {
	if s, ok := h.sessions.Current(); ok {
		if middleware.WantsHTML(c.Request) {
			c.Redirect(http.StatusSeeOther, middleware.DashboardPath)
			return
		}
		c.JSON(http.StatusOK, gin.H{"page": "login", "authenticated": true, "user": s.User, "redirect": middleware.DashboardPath})
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": "login", "authenticated": false})
}

// Login handles user login
func (h *AuthController) Login(c *gin.Context) {
	var req api_models.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.api.Login(c.Request.Context(), req)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":     resp.User,
		"redirect": middleware.DashboardPath,
	})
}

// Register creates an account. The user is logged in only when the backend
// hands back a token, otherwise they are sent to the login page.
func (h *AuthController) Register(c *gin.Context) {
	var req api_models.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.api.Register(c.Request.Context(), req)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	if resp.Token == "" {
		c.JSON(http.StatusCreated, gin.H{"redirect": middleware.LoginPath})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user":     resp.User,
		"redirect": middleware.DashboardPath,
	})
}

// Logout always clears local state, even when the backend call fails
func (h *AuthController) Logout(c *gin.Context) {
	h.live.Stop()
	if err := h.api.Logout(c.Request.Context()); err != nil {
		h.logger.WithError(err).Warn("backend logout failed, local session cleared anyway")
	}
	c.JSON(http.StatusOK, gin.H{"redirect": middleware.LoginPath})
}

// respondAuthError keeps a rejected login on the form with the backend's reason
func (h *AuthController) respondAuthError(c *gin.Context, err error) {
	var apiErr *client.APIError
	if !errors.Is(err, client.ErrUnauthorized) || !errors.As(err, &apiErr) {
		respondError(c, h.logger, err)
		return
	}
	message := apiErr.Message
	if message == "" || message == http.StatusText(http.StatusUnauthorized) {
		message = "Invalid credentials"
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": message})
}
