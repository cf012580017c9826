package api_models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DeviceInput is the body of a device creation request
type DeviceInput struct {
	Serial   string `json:"serial" form:"serial"`
	Name     string `json:"name" form:"name"`
	Location string `json:"location" form:"location"`
}

// Validate requires every field
func (d DeviceInput) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Serial) == "" {
		errs = append(errs, errors.New("serial is required"))
	}
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(d.Location) == "" {
		errs = append(errs, errors.New("location is required"))
	}
	return errors.Join(errs...)
}

// DeviceUpdate is the body of a device PATCH. The serial is immutable.
type DeviceUpdate struct {
	Name     string `json:"name" form:"name"`
	Location string `json:"location" form:"location"`
}

// Validate requires a name
func (d DeviceUpdate) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// DeviceToken is the credential a physical device uses to submit telemetry
type DeviceToken struct {
	Token string `json:"token"`
}

// UnmarshalJSON accepts a bare string, {"token": ...} or {"deviceToken": ...}
func (d *DeviceToken) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		d.Token = bare
		return nil
	}

	var raw struct {
		Token       string `json:"token"`
		DeviceToken string `json:"deviceToken"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Token = raw.Token
	if d.Token == "" {
		d.Token = raw.DeviceToken
	}
	return nil
}

// Profile is the user profile shown on the profile page
type Profile struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}
