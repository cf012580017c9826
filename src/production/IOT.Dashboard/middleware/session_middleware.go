package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
)

// Key types for request context
type contextKey string

const (
	// Context keys
	UserContextKey contextKey = "session_user"
)

const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// SessionReader is the read side of the session store
type SessionReader interface {
	Current() (api_models.Session, bool)
}

// SessionMiddleware gates views on the presence of a session
type SessionMiddleware struct {
	sessions SessionReader
}

func NewSessionMiddleware(sessions SessionReader) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions}
}

// RequireSession sends the browser to the login entry point when nobody is logged in
func (m *SessionMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := m.sessions.Current()
		if !ok {
			RedirectToLogin(c)
			return
		}

		c.Set(string(UserContextKey), s.User)
		c.Next()
	}
}

// GetUserFromGinContext returns the user RequireSession stored on the request
func GetUserFromGinContext(c *gin.Context) (api_models.User, bool) {
	v, ok := c.Get(string(UserContextKey))
	if !ok {
		return api_models.User{}, false
	}
	u, ok := v.(api_models.User)
	return u, ok
}

// RedirectToLogin answers 303 to browsers and a 401 JSON body to everything else
func RedirectToLogin(c *gin.Context) {
	if WantsHTML(c.Request) {
		c.Redirect(http.StatusSeeOther, LoginPath)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    "Authentication required",
		"redirect": LoginPath,
	})
}

// WantsHTML reports whether the request came from a page navigation
func WantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
