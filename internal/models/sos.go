package models

import "time"

// SOSTriggerRequest is the body of an emergency alert.
type SOSTriggerRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Responder is an emergency service unit the backend selected for an alert.
type Responder struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Phone    string   `json:"phone,omitempty"`
	Distance *float64 `json:"distance,omitempty"`
}

// ResponderSummary lists the responders found for an alert.
type ResponderSummary struct {
	TotalFound int         `json:"totalFound"`
	Items      []Responder `json:"items"`
}

// SOSResult is the backend's answer to an emergency alert.
type SOSResult struct {
	Status     string           `json:"status"`
	AlertID    string           `json:"alertId,omitempty"`
	Message    string           `json:"message,omitempty"`
	Responders ResponderSummary `json:"responders"`
}

// SOSState is what the SOS coordinator currently holds.
type SOSState struct {
	Result       *SOSResult `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	IsTriggering bool       `json:"is_triggering"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
