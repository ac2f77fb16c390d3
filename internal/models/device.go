package models

// Device is a device owned by the authenticated user, as listed by the backend.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DeviceList is the backend's device listing response.
type DeviceList struct {
	Devices []Device `json:"devices"`
}
