package client

import (
	"context"
	"encoding/json"
	"net/http"

	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
)

// Profile fetches the logged in user's profile
func (c *Client) Profile(ctx context.Context) (api_models.Profile, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return api_models.Profile{}, err
	}
	resp, err := c.send(req, http.MethodGet, "/api/profile/{userId}")
	if err != nil {
		return api_models.Profile{}, err
	}

	var p api_models.Profile
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return api_models.Profile{}, malformed("profile", err)
	}
	return p, nil
}
