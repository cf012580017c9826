package interfaces

import (
	"context"

	hardware_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/hardware"
)

// ReadingArchive keeps a durable copy of readings seen by the live poller
type ReadingArchive interface {
	// Archive upserts readings by id; re-archiving the same reading is a no-op
	Archive(ctx context.Context, rs []hardware_models.Reading) error
	Close(ctx context.Context) error
}
