package constants

import "time"

const (
	// LocationSourceGPS tags every location submission made by the tracker.
	LocationSourceGPS = "gps"

	// DefaultTrackingInterval is the longest time between reported samples while watching.
	DefaultTrackingInterval = 30 * time.Second

	// DefaultTrackingDistance is the displacement in meters that forces a new sample.
	DefaultTrackingDistance = 100.0

	// DefaultSessionRefresh is how often auth state and the device list are re-read.
	DefaultSessionRefresh = 60 * time.Second
)

// Tracker states
const (
	TrackingIdle     = "idle"
	TrackingWatching = "watching"
)
