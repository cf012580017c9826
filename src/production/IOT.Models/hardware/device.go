package hardware_models

import "time"

// OnlineWindow is how recently a device must have reported to count as online
const OnlineWindow = 5 * time.Minute

// Device represents a registered IoT device owned by a user
type Device struct {
	ID        int        `json:"id" bson:"id"`
	Serial    string     `json:"serial" bson:"serial"`
	Name      string     `json:"name" bson:"name"`
	Location  string     `json:"location" bson:"location"`
	OwnerID   int        `json:"ownerId" bson:"owner_id"`
	CreatedAt time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" bson:"updated_at"`
	LastSeen  *time.Time `json:"lastSeen" bson:"last_seen,omitempty"`
}

// Online reports whether the device has been seen within OnlineWindow of now.
// A device that never reported is offline.
func (d Device) Online(now time.Time) bool {
	if d.LastSeen == nil {
		return false
	}
	return now.Sub(*d.LastSeen) <= OnlineWindow
}
