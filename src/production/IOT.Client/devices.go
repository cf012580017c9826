package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
)

const (
	devicesPath     = "/api/devices/{userId}"
	devicePath      = "/api/devices/{userId}/{deviceId}"
	deviceTokenPath = "/api/devices/{userId}/{deviceId}/deviceToken"
)

// ListDevices lists the devices owned by the logged in user
func (c *Client) ListDevices(ctx context.Context) ([]hardware_models.Device, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req, http.MethodGet, devicesPath)
	if err != nil {
		return nil, err
	}

	devices := make([]hardware_models.Device, 0)
	if err := json.Unmarshal(resp.Body(), &devices); err != nil {
		return nil, malformed("device list", err)
	}
	return devices, nil
}

// GetDevice fetches one device owned by the logged in user
func (c *Client) GetDevice(ctx context.Context, deviceID int) (hardware_models.Device, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return hardware_models.Device{}, err
	}
	resp, err := c.send(withDevice(req, deviceID), http.MethodGet, devicePath)
	if err != nil {
		return hardware_models.Device{}, err
	}

	var device hardware_models.Device
	if err := json.Unmarshal(resp.Body(), &device); err != nil {
		return hardware_models.Device{}, malformed("device", err)
	}
	return device, nil
}

// CreateDevice registers a device for the logged in user
func (c *Client) CreateDevice(ctx context.Context, in api_models.DeviceInput) (hardware_models.Device, error) {
	if err := in.Validate(); err != nil {
		return hardware_models.Device{}, validationError(err)
	}
	req, err := c.userRequest(ctx)
	if err != nil {
		return hardware_models.Device{}, err
	}
	resp, err := c.send(req.SetBody(in), http.MethodPost, devicesPath)
	if err != nil {
		return hardware_models.Device{}, err
	}

	var device hardware_models.Device
	if err := json.Unmarshal(resp.Body(), &device); err != nil {
		return hardware_models.Device{}, malformed("created device", err)
	}
	return device, nil
}

// UpdateDevice changes a device's name and location. When the backend answers
// without a body the returned device only carries the updated fields.
func (c *Client) UpdateDevice(ctx context.Context, deviceID int, upd api_models.DeviceUpdate) (hardware_models.Device, error) {
	if err := upd.Validate(); err != nil {
		return hardware_models.Device{}, validationError(err)
	}
	req, err := c.userRequest(ctx)
	if err != nil {
		return hardware_models.Device{}, err
	}
	resp, err := c.send(withDevice(req, deviceID).SetBody(upd), http.MethodPatch, devicePath)
	if err != nil {
		return hardware_models.Device{}, err
	}

	device := hardware_models.Device{ID: deviceID, Name: upd.Name, Location: upd.Location}
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &device); err != nil {
			return hardware_models.Device{}, malformed("updated device", err)
		}
	}
	return device, nil
}

// DeleteDevice removes a device owned by the logged in user
func (c *Client) DeleteDevice(ctx context.Context, deviceID int) error {
	req, err := c.userRequest(ctx)
	if err != nil {
		return err
	}
	_, err = c.send(withDevice(req, deviceID), http.MethodDelete, devicePath)
	return err
}

// DeviceToken retrieves the credential the physical device uses to submit telemetry
func (c *Client) DeviceToken(ctx context.Context, deviceID int) (string, error) {
	req, err := c.userRequest(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.send(withDevice(req, deviceID), http.MethodGet, deviceTokenPath)
	if err != nil {
		return "", err
	}

	var tok api_models.DeviceToken
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		return "", malformed("device token", err)
	}
	if tok.Token == "" {
		return "", malformed("device token", errors.New("empty token"))
	}
	return tok.Token, nil
}

func withDevice(req *resty.Request, deviceID int) *resty.Request {
	return req.SetPathParam("deviceId", strconv.Itoa(deviceID))
}
