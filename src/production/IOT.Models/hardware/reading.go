package hardware_models

import (
	"errors"
	"fmt"
	"time"
)

// ReadingPayload carries the device-reported status block
type ReadingPayload struct {
	Status   string `json:"status" bson:"status"`
	Firmware string `json:"firmware" bson:"firmware"`
}

// Reading is a single telemetry sample. Readings are immutable once stored by the backend.
type Reading struct {
	ID          int            `json:"id" bson:"_id"`
	DeviceID    int            `json:"deviceId" bson:"device_id"`
	Ts          time.Time      `json:"ts" bson:"ts"`
	Payload     ReadingPayload `json:"payload" bson:"payload"`
	Temperature float64        `json:"temperature" bson:"temperature"`
	Humidity    float64        `json:"humidity" bson:"humidity"`
	Battery     int            `json:"battery" bson:"battery"`
}

// Validate rejects readings that cannot be placed on a timeline or whose battery is out of range
func (r Reading) Validate() error {
	if r.DeviceID <= 0 {
		return errors.New("reading has no device id")
	}
	if r.Ts.IsZero() {
		return errors.New("reading has no timestamp")
	}
	if r.Battery < 0 || r.Battery > 100 {
		return fmt.Errorf("battery %d out of range 0..100", r.Battery)
	}
	return nil
}
