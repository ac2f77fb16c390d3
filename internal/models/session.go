package models

// Session is a read-only snapshot of authentication and device ownership.
type Session struct {
	Authenticated bool
	Token         string
	Devices       []Device
}

// CanTrack reports whether the session allows location submissions at all.
func (s Session) CanTrack() bool {
	return s.Authenticated && len(s.Devices) > 0
}

// Clone returns a copy that does not share the device slice.
func (s Session) Clone() Session {
	c := s
	c.Devices = append([]Device(nil), s.Devices...)
	return c
}
