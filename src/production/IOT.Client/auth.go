package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
)

// Login authenticates and stores the returned session
func (c *Client) Login(ctx context.Context, creds api_models.Credentials) (api_models.AuthResponse, error) {
	auth, err := c.authenticate(ctx, "/auth/login", creds)
	if err != nil {
		return api_models.AuthResponse{}, err
	}
	if auth.Token == "" {
		return api_models.AuthResponse{}, malformed("login response", errors.New("missing token"))
	}
	c.startSession(auth)
	return auth, nil
}

// Register creates an account. When the backend answers with a token the
// session is started right away, otherwise the caller should send the user to login.
func (c *Client) Register(ctx context.Context, creds api_models.Credentials) (api_models.AuthResponse, error) {
	auth, err := c.authenticate(ctx, "/auth/register", creds)
	if err != nil {
		return api_models.AuthResponse{}, err
	}
	if auth.Token != "" {
		c.startSession(auth)
	}
	return auth, nil
}

// Logout invalidates the session server-side and always clears it locally.
// The backend error, if any, is returned after the local session is gone.
func (c *Client) Logout(ctx context.Context) error {
	var backendErr error
	if c.store.Token() != "" {
		if _, err := c.send(c.request(ctx), http.MethodPost, "/auth/logout"); err != nil {
			c.log.WithError(err).Warn("backend logout failed, clearing local session anyway")
			backendErr = err
		}
	}
	if err := c.store.Logout(); err != nil {
		c.log.WithError(err).Warn("failed to clear local session")
	}
	return backendErr
}

func (c *Client) authenticate(ctx context.Context, path string, creds api_models.Credentials) (api_models.AuthResponse, error) {
	if err := creds.Validate(); err != nil {
		return api_models.AuthResponse{}, validationError(err)
	}

	resp, err := c.send(c.request(ctx).SetBody(creds), http.MethodPost, path)
	if err != nil {
		return api_models.AuthResponse{}, err
	}

	var auth api_models.AuthResponse
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &auth); err != nil {
			return api_models.AuthResponse{}, malformed("auth response", err)
		}
	}
	return auth, nil
}

func (c *Client) startSession(auth api_models.AuthResponse) {
	if err := c.store.Login(auth.Token, auth.User); err != nil {
		c.log.WithError(err).Warn("session started but could not be persisted")
	}
	c.log.WithField("user_id", auth.User.ID).Info("logged in")
}
