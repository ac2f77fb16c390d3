package services

import (
	"context"

	"github.com/benmeehan/sos-agent/internal/models"
)

// SessionProvider hands out read-only snapshots of auth state and owned
// devices, and announces when either changes.
type SessionProvider interface {
	Snapshot() models.Session
	Subscribe(listener func(models.Session)) (unsubscribe func())
}

// LocationSubmitter sends one device's location to the backend.
type LocationSubmitter interface {
	SubmitDeviceLocation(ctx context.Context, token, deviceID string, submission models.LocationSubmission) error
}

// DeviceLister lists the devices owned by the token's user.
type DeviceLister interface {
	ListDevices(ctx context.Context, token string) ([]models.Device, error)
}

// SOSTrigger raises an emergency alert.
type SOSTrigger interface {
	TriggerSOS(ctx context.Context, token string, req models.SOSTriggerRequest) (*models.SOSResult, error)
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(n models.Notification)
}
