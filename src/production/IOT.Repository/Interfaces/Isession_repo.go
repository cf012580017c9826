package interfaces

import (
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
)

// SessionRepository persists the dashboard session across restarts
type SessionRepository interface {
	// Load returns the persisted session, or nil when nothing is stored
	Load() (*api_models.Session, error)
	Save(s api_models.Session) error
	Clear() error
}
