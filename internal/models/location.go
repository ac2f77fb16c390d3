package models

import (
	"time"
)

// LocationSubmission is the body of a device location update sent to the backend.
type LocationSubmission struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Source    string   `json:"source"`
}

// SubmissionOutcome records how one location submission for one device settled.
type SubmissionOutcome struct {
	DeviceID  string    `json:"device_id"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
