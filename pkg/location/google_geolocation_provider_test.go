package location

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

type fakeGeolocator struct {
	calls   atomic.Int32
	lastReq atomic.Pointer[maps.GeolocationRequest]
	result  *maps.GeolocationResult
	err     error
}

func (f *fakeGeolocator) Geolocate(_ context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error) {
	f.calls.Add(1)
	f.lastReq.Store(r)
	return f.result, f.err
}

func newTestGoogleProvider(client geolocator, consent bool) *GoogleGeolocationProvider {
	return &GoogleGeolocationProvider{
		client:       client,
		consent:      consent,
		pollInterval: 10 * time.Millisecond,
		scanWiFi: func(context.Context) ([]maps.WiFiAccessPoint, error) {
			return []maps.WiFiAccessPoint{{MACAddress: "00:14:22:01:23:45", SignalStrength: -60}}, nil
		},
		scanCells: func(context.Context, int) ([]maps.CellTower, error) {
			return nil, errors.New("no modem")
		},
		now: fixedNow,
	}
}

func TestGoogleGeolocationProvider_CurrentPosition(t *testing.T) {
	fake := &fakeGeolocator{result: &maps.GeolocationResult{
		Location: maps.LatLng{Lat: 53.34, Lng: -6.26},
		Accuracy: 40,
	}}
	g := newTestGoogleProvider(fake, true)

	pos, err := g.CurrentPosition(context.Background(), AccuracyHigh)
	require.NoError(t, err)
	assert.Equal(t, 53.34, pos.Latitude)
	assert.Equal(t, -6.26, pos.Longitude)
	require.NotNil(t, pos.Accuracy)
	assert.Equal(t, 40.0, *pos.Accuracy)

	req := fake.lastReq.Load()
	assert.False(t, req.ConsiderIP, "high accuracy with radio data skips IP")
	assert.Len(t, req.WiFiAccessPoints, 1)

	_, err = g.CurrentPosition(context.Background(), AccuracyBalanced)
	require.NoError(t, err)
	assert.True(t, fake.lastReq.Load().ConsiderIP)
}

func TestGoogleGeolocationProvider_Permission(t *testing.T) {
	perm, err := newTestGoogleProvider(&fakeGeolocator{}, false).RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, perm)

	perm, err = newTestGoogleProvider(&fakeGeolocator{}, true).PermissionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, perm)
}

func TestGoogleGeolocationProvider_WatchReportsErrorsAndKeepsPolling(t *testing.T) {
	fake := &fakeGeolocator{err: errors.New("quota exceeded")}
	g := newTestGoogleProvider(fake, true)

	var errCount atomic.Int32
	sub, err := g.Watch(context.Background(), WatchOptions{
		MinInterval: time.Hour,
		OnError:     func(error) { errCount.Add(1) },
	}, func(Position) { t.Error("no position expected") })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return errCount.Load() >= 2 }, time.Second, 5*time.Millisecond)
	sub.Cancel()

	settled := fake.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, fake.calls.Load(), settled+1)
}
