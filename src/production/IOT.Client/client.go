package client

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	config "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Config"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
)

// SessionStore is the part of the session store the client needs. The client
// reads the token when composing requests and only ever clears the session
// through Logout.
type SessionStore interface {
	Current() (api_models.Session, bool)
	Token() string
	Login(token string, user api_models.User) error
	Logout() error
}

// Client talks to the device registry, telemetry and auth endpoints of the backend.
// Every request goes through the same middleware pair: authorize adds the bearer
// token, interceptUnauthorized turns any 401 into a global logout.
type Client struct {
	http           *resty.Client
	store          SessionStore
	log            *logger.Logger
	onUnauthorized func()
}

// Option configures a Client
type Option func(*Client)

// WithUnauthorizedHandler is called after the session has been cleared because
// the backend answered 401.
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New creates a new API client
func New(cfg config.APIConfig, store SessionStore, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		store: store,
		log:   log.WithComponent("api_client"),
	}

	c.http = resty.New().
		SetBaseURL(cfg.BaseURL).
		SetLogger(restyLogger{c.log}).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		c.http.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		c.http.SetHeader("User-Agent", cfg.UserAgent)
	}

	c.http.OnBeforeRequest(c.authorize)
	c.http.OnAfterResponse(c.interceptUnauthorized)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) authorize(_ *resty.Client, req *resty.Request) error {
	if req.Header.Get("X-Request-ID") == "" {
		req.SetHeader("X-Request-ID", uuid.NewString())
	}
	if token := c.store.Token(); token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}
	return nil
}

// interceptUnauthorized is the only place the client mutates the session.
// It runs once per received response, whichever operation issued it.
func (c *Client) interceptUnauthorized(_ *resty.Client, resp *resty.Response) error {
	log := c.log.WithFields(map[string]interface{}{
		"method":   resp.Request.Method,
		"url":      resp.Request.URL,
		"status":   resp.StatusCode(),
		"duration": resp.Time().String(),
	}).WithRequestID(resp.Request.Header.Get("X-Request-ID"))

	if resp.StatusCode() != http.StatusUnauthorized {
		log.Debug("backend response")
		return nil
	}

	log.Warn("backend rejected session, logging out")
	if err := c.store.Logout(); err != nil {
		log.WithError(err).Warn("failed to clear session after 401")
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}

	return errorFromResponse(resp.StatusCode(), resp.Body())
}

// request starts a request carrying ctx
func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// send executes req and converts every failure into an *APIError
func (c *Client) send(req *resty.Request, method, path string) (*resty.Response, error) {
	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return resp, apiErr
		}
		c.log.WithError(err).WithFields(map[string]interface{}{
			"method":  method,
			"path":    path,
			"elapsed": time.Since(start).String(),
		}).Warn("backend request failed")
		return resp, transportError(err)
	}
	if resp.IsError() || resp.StatusCode() >= 300 {
		return resp, errorFromResponse(resp.StatusCode(), resp.Body())
	}
	return resp, nil
}

// userRequest starts a request scoped to the logged in user, failing before
// any network IO when there is no session.
func (c *Client) userRequest(ctx context.Context) (*resty.Request, error) {
	sess, ok := c.store.Current()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return c.request(ctx).SetPathParam("userId", strconv.Itoa(sess.User.ID)), nil
}

// Health checks that the backend is reachable
func (c *Client) Health(ctx context.Context) error {
	_, err := c.send(c.request(ctx), http.MethodGet, "/")
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code != ErrorCodeTransport && apiErr.Code != ErrorCodeServerError {
		// Any HTTP answer means the backend is up
		return nil
	}
	return err
}

// restyLogger routes resty's own diagnostics into zerolog
type restyLogger struct {
	log *logger.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Logger.Error().Msgf(format, v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Logger.Warn().Msgf(format, v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.Logger.Debug().Msgf(format, v...)
}
