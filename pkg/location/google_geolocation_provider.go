package location

import (
	"context"
	"time"

	"googlemaps.github.io/maps"
)

const (
	defaultGeolocateTimeout = 10 * time.Second
	defaultPollInterval     = 15 * time.Second
)

// geolocator is the part of *maps.Client used by the provider.
type geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// GoogleGeolocationProvider uses the Google Maps API to get location data.
// Nearby Wi-Fi access points and cell towers are sent along when available.
type GoogleGeolocationProvider struct {
	client       geolocator
	consent      bool
	modemIndex   int
	pollInterval time.Duration

	scanWiFi  func(ctx context.Context) ([]maps.WiFiAccessPoint, error)
	scanCells func(ctx context.Context, modemIndex int) ([]maps.CellTower, error)
	now       func() time.Time
}

// NewGoogleGeolocationProvider creates a new GoogleGeolocationProvider instance.
// consent records whether the user agreed to network-based positioning.
func NewGoogleGeolocationProvider(apiKey string, consent bool, modemIndex int, pollInterval time.Duration) (*GoogleGeolocationProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &GoogleGeolocationProvider{
		client:       c,
		consent:      consent,
		modemIndex:   modemIndex,
		pollInterval: pollInterval,
		scanWiFi:     getWiFiAccessPoints,
		scanCells:    getCellTowers,
		now:          time.Now,
	}, nil
}

// PermissionStatus reflects the configured consent.
func (g *GoogleGeolocationProvider) PermissionStatus(_ context.Context) (Permission, error) {
	if g.consent {
		return PermissionGranted, nil
	}
	return PermissionDenied, nil
}

// RequestPermission has nobody to prompt; consent is given in configuration.
func (g *GoogleGeolocationProvider) RequestPermission(ctx context.Context) (Permission, error) {
	return g.PermissionStatus(ctx)
}

// CurrentPosition retrieves the device's location using Google Maps Geolocation API.
// Balanced accuracy always lets the API fall back to the IP address; high
// accuracy only does so when no radio data could be collected.
func (g *GoogleGeolocationProvider) CurrentPosition(ctx context.Context, accuracy Accuracy) (Position, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultGeolocateTimeout)
	defer cancel()

	// Radio scans are best effort; the API still answers from IP alone.
	wifiAPs, _ := g.scanWiFi(ctx)
	cellTowers, _ := g.scanCells(ctx, g.modemIndex)

	req := &maps.GeolocationRequest{
		ConsiderIP:       accuracy == AccuracyBalanced || (len(wifiAPs) == 0 && len(cellTowers) == 0),
		WiFiAccessPoints: wifiAPs,
		CellTowers:       cellTowers,
	}

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		return Position{}, err
	}

	return Position{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  float64Ptr(resp.Accuracy),
		Timestamp: g.now(),
	}, nil
}

// Watch polls the API and reports positions through the watch filter.
func (g *GoogleGeolocationProvider) Watch(ctx context.Context, opts WatchOptions, onPosition func(Position)) (Subscription, error) {
	return pollingWatch(ctx, g.pollInterval, opts, g.now, g.CurrentPosition, onPosition, opts.OnError), nil
}

// Close releases provider resources.
func (g *GoogleGeolocationProvider) Close() error {
	return nil
}
