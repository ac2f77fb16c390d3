package location

import (
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
)

const (
	knotsToMetersPerSecond = 0.514444
	// nominal user equivalent range error used to turn HDOP into meters
	hdopToMeters = 5.0
)

// fixAssembler turns a stream of NMEA sentences into positions. GGA carries
// the fix, altitude and HDOP; RMC carries speed over ground and course.
type fixAssembler struct {
	speed   *float64
	heading *float64
	sawGGA  bool
	now     func() time.Time
}

func newFixAssembler(now func() time.Time) *fixAssembler {
	return &fixAssembler{now: now}
}

// feed consumes one line and returns a position when the line completes a fix.
func (a *fixAssembler) feed(line string) (Position, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Position{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Position{}, false
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		a.sawGGA = true
		if s.FixQuality == "" || s.FixQuality == nmea.Invalid {
			return Position{}, false
		}
		pos := Position{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Altitude:  float64Ptr(s.Altitude),
			Speed:     a.speed,
			Heading:   a.heading,
			Timestamp: a.now(),
		}
		if s.HDOP > 0 {
			pos.Accuracy = float64Ptr(s.HDOP * hdopToMeters)
		}
		a.speed, a.heading = nil, nil
		return pos, hasFix(pos)

	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return Position{}, false
		}
		a.speed = float64Ptr(s.Speed * knotsToMetersPerSecond)
		a.heading = float64Ptr(s.Course)
		if a.sawGGA {
			return Position{}, false
		}
		// receivers configured for RMC only still produce fixes
		pos := Position{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Speed:     a.speed,
			Heading:   a.heading,
			Timestamp: a.now(),
		}
		a.speed, a.heading = nil, nil
		return pos, hasFix(pos)
	}

	return Position{}, false
}

// hasFix rejects 0,0, which receivers report while still searching.
func hasFix(pos Position) bool {
	return pos.Valid() && (pos.Latitude != 0 || pos.Longitude != 0)
}
