package location

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371008.8

// Distance returns the great-circle distance in meters between two positions.
func Distance(a, b Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// emitFilter decides which raw fixes a watch reports.
type emitFilter struct {
	opts WatchOptions
	last *Position
	at   time.Time
}

func newEmitFilter(opts WatchOptions) *emitFilter {
	return &emitFilter{opts: opts}
}

// accept reports whether pos should be delivered, observed at now.
func (f *emitFilter) accept(pos Position, now time.Time) bool {
	if !pos.Valid() {
		return false
	}

	if f.last == nil ||
		now.Sub(f.at) >= f.opts.MinInterval ||
		(f.opts.MinDistance > 0 && Distance(*f.last, pos) >= f.opts.MinDistance) {
		p := pos
		f.last = &p
		f.at = now
		return true
	}
	return false
}
