package location

import (
	"math"
	"time"
)

// Position represents one observed fix of the host's physical location.
// Optional fields are nil when the provider cannot supply them.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64 // meters above mean sea level
	Speed     *float64 // meters per second
	Heading   *float64 // degrees clockwise from true north
	Accuracy  *float64 // estimated horizontal error in meters
	Timestamp time.Time
}

// Valid reports whether the position carries usable coordinates.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return false
	}
	return true
}

// Accuracy is a hint about the precision/power tradeoff a caller wants.
type Accuracy int

const (
	AccuracyBalanced Accuracy = iota
	AccuracyHigh
)

func (a Accuracy) String() string {
	if a == AccuracyHigh {
		return "high"
	}
	return "balanced"
}

// Permission is the state of the agent's access to the location source.
type Permission string

const (
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
	PermissionUndetermined Permission = "undetermined"
)

// WatchOptions configures a continuous watch. A sample is reported once
// MinInterval has elapsed or MinDistance meters have been covered since the
// last reported sample, whichever comes first.
type WatchOptions struct {
	Accuracy    Accuracy
	MinInterval time.Duration
	MinDistance float64
	// OnError receives acquisition errors; the watch keeps running.
	OnError func(error)
}

func float64Ptr(v float64) *float64 {
	return &v
}
