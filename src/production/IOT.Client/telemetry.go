package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
)

// FetchHistory returns every reading the backend holds for deviceID, in the
// order the backend sent them. Elements that do not decode or fail validation
// are dropped with a warning; a body that is not a JSON array is an error.
func (c *Client) FetchHistory(ctx context.Context, deviceID int) ([]hardware_models.Reading, error) {
	if c.store.Token() == "" {
		return nil, ErrNotAuthenticated
	}

	req := c.request(ctx).SetPathParam("deviceId", strconv.Itoa(deviceID))
	resp, err := c.send(req, http.MethodGet, "/api/telemetry/{deviceId}")
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, malformed("telemetry list", err)
	}

	log := c.log.WithDevice(deviceID)
	readings := make([]hardware_models.Reading, 0, len(raw))
	for i, elem := range raw {
		var r hardware_models.Reading
		if err := json.Unmarshal(elem, &r); err != nil {
			log.WithError(err).WithField("index", i).Warn("dropping undecodable reading")
			continue
		}
		if r.DeviceID == 0 {
			r.DeviceID = deviceID
		}
		if r.DeviceID != deviceID {
			log.WithFields(map[string]interface{}{"index": i, "reading_device_id": r.DeviceID}).Warn("dropping reading for another device")
			continue
		}
		if err := r.Validate(); err != nil {
			log.WithError(err).WithField("index", i).Warn("dropping invalid reading")
			continue
		}
		readings = append(readings, r)
	}
	return readings, nil
}
