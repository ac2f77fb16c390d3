package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/sos-agent/internal/constants"
	"github.com/benmeehan/sos-agent/internal/mocks"
	"github.com/benmeehan/sos-agent/internal/models"
	"github.com/benmeehan/sos-agent/pkg/lifecycle"
	"github.com/benmeehan/sos-agent/pkg/location"
)

// stubSession is a SessionProvider whose snapshot the test controls.
type stubSession struct {
	mu        sync.Mutex
	session   models.Session
	listeners []func(models.Session)
}

func newStubSession(devices ...models.Device) *stubSession {
	return &stubSession{session: models.Session{Authenticated: true, Token: "token", Devices: devices}}
}

func (s *stubSession) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

func (s *stubSession) Subscribe(listener func(models.Session)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = nil
	}
}

func (s *stubSession) set(session models.Session) {
	s.mu.Lock()
	s.session = session
	listeners := append(([]func(models.Session))(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(session.Clone())
	}
}

var testPosition = location.Position{
	Latitude:  53.3613,
	Longitude: -6.5056,
	Timestamp: time.Date(2026, 10, 15, 9, 27, 50, 0, time.UTC),
}

func newTestLocationService(provider *mocks.MockLocationProvider, backend *mocks.MockBackend, session SessionProvider,
	notifier *mocks.MockNotifier, events lifecycle.Source) *LocationService {
	return NewLocationService(0, 0, provider, backend, session, notifier, events, zerolog.Nop())
}

func TestLocationService_StartTrackingTwice_ReleasesFirstSubscription(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	first := new(mocks.MockSubscription)
	second := new(mocks.MockSubscription)

	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionGranted, nil)
	provider.On("Watch", mock.Anything, mock.Anything, mock.Anything).Return(first, nil).Once()
	provider.On("Watch", mock.Anything, mock.Anything, mock.Anything).Return(second, nil).Once()
	first.On("Cancel").Return().Once()

	l := newTestLocationService(provider, new(mocks.MockBackend), newStubSession(), new(mocks.MockNotifier), nil)

	l.StartTracking(context.Background())
	l.StartTracking(context.Background())

	assert.True(t, l.IsTracking())
	first.AssertNumberOfCalls(t, "Cancel", 1)
	second.AssertNotCalled(t, "Cancel")
	provider.AssertNumberOfCalls(t, "Watch", 2)
}

func TestLocationService_StartTracking_UsesBalancedDefaults(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionGranted, nil)
	provider.On("Watch", mock.Anything, mock.MatchedBy(func(opts location.WatchOptions) bool {
		return opts.Accuracy == location.AccuracyBalanced &&
			opts.MinInterval == 30*time.Second &&
			opts.MinDistance == 100 &&
			opts.OnError != nil
	}), mock.Anything).Return(new(mocks.MockSubscription), nil).Once()

	l := newTestLocationService(provider, new(mocks.MockBackend), newStubSession(), new(mocks.MockNotifier), nil)
	l.StartTracking(context.Background())

	assert.Equal(t, constants.TrackingWatching, l.TrackingState())
	provider.AssertExpectations(t)
}

func TestLocationService_StartTracking_WithoutPermissionDoesNotPrompt(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionUndetermined, nil)

	l := newTestLocationService(provider, new(mocks.MockBackend), newStubSession(), new(mocks.MockNotifier), nil)
	l.StartTracking(context.Background())

	assert.False(t, l.IsTracking())
	provider.AssertNotCalled(t, "RequestPermission", mock.Anything)
	provider.AssertNotCalled(t, "Watch", mock.Anything, mock.Anything, mock.Anything)
}

func TestLocationService_StopTracking_Idempotent(t *testing.T) {
	l := newTestLocationService(new(mocks.MockLocationProvider), new(mocks.MockBackend), newStubSession(), new(mocks.MockNotifier), nil)

	assert.NotPanics(t, func() {
		l.StopTracking()
		l.StopTracking()
	})
	assert.False(t, l.IsTracking())
	assert.Equal(t, constants.TrackingIdle, l.TrackingState())
}

func TestLocationService_WatchSamplesAreFannedOut(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	backend := new(mocks.MockBackend)
	sub := new(mocks.MockSubscription)

	var onPosition func(location.Position)
	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionGranted, nil)
	provider.On("Watch", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { onPosition = args.Get(2).(func(location.Position)) }).
		Return(sub, nil)
	backend.On("SubmitDeviceLocation", mock.Anything, "token", "dev-1", mock.Anything).Return(nil).Once()

	l := newTestLocationService(provider, backend, newStubSession(models.Device{ID: "dev-1"}), new(mocks.MockNotifier), nil)
	l.StartTracking(context.Background())
	require.NotNil(t, onPosition)

	onPosition(testPosition)

	backend.AssertExpectations(t)
}

func TestLocationService_UpdateDeviceLocations_SubmitsToEveryDevice(t *testing.T) {
	backend := new(mocks.MockBackend)
	devices := []models.Device{{ID: "dev-1"}, {ID: "dev-2"}, {ID: "dev-3"}}

	var settled atomic.Int32
	backend.On("SubmitDeviceLocation", mock.Anything, "token", mock.Anything, mock.MatchedBy(func(s models.LocationSubmission) bool {
		return s.Source == constants.LocationSourceGPS && s.Latitude == testPosition.Latitude
	})).
		Run(func(mock.Arguments) {
			time.Sleep(20 * time.Millisecond)
			settled.Add(1)
		}).
		Return(nil)

	l := newTestLocationService(new(mocks.MockLocationProvider), backend, newStubSession(devices...), new(mocks.MockNotifier), nil)
	outcomes := l.UpdateDeviceLocations(context.Background(), testPosition)

	assert.EqualValues(t, 3, settled.Load())
	backend.AssertNumberOfCalls(t, "SubmitDeviceLocation", 3)
	require.Len(t, outcomes, 3)
	for i, outcome := range outcomes {
		assert.Equal(t, devices[i].ID, outcome.DeviceID)
		assert.True(t, outcome.Success)
	}
}

func TestLocationService_UpdateDeviceLocations_PartialFailure(t *testing.T) {
	backend := new(mocks.MockBackend)
	backend.On("SubmitDeviceLocation", mock.Anything, "token", "dev-a", mock.Anything).Return(errors.New("device not found"))
	backend.On("SubmitDeviceLocation", mock.Anything, "token", "dev-b", mock.Anything).Return(nil)

	session := newStubSession(models.Device{ID: "dev-a"}, models.Device{ID: "dev-b"})
	l := newTestLocationService(new(mocks.MockLocationProvider), backend, session, new(mocks.MockNotifier), nil)

	var outcomes []models.SubmissionOutcome
	assert.NotPanics(t, func() {
		outcomes = l.UpdateDeviceLocations(context.Background(), testPosition)
	})

	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, "device not found", outcomes[0].Error)
	assert.True(t, outcomes[1].Success)

	last := l.LastOutcomes()
	assert.False(t, last["dev-a"].Success)
	assert.True(t, last["dev-b"].Success)
}

func TestLocationService_UpdateDeviceLocations_ShortCircuits(t *testing.T) {
	tests := []struct {
		name    string
		session models.Session
		pos     location.Position
	}{
		{name: "no devices", session: models.Session{Authenticated: true, Token: "token"}, pos: testPosition},
		{name: "signed out", session: models.Session{Devices: []models.Device{{ID: "dev-1"}}}, pos: testPosition},
		{name: "incomplete position", session: newStubSession(models.Device{ID: "dev-1"}).Snapshot(), pos: location.Position{Latitude: math.NaN()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := new(mocks.MockBackend)
			session := &stubSession{session: tt.session}
			l := newTestLocationService(new(mocks.MockLocationProvider), backend, session, new(mocks.MockNotifier), nil)

			outcomes := l.UpdateDeviceLocations(context.Background(), tt.pos)

			assert.Empty(t, outcomes)
			backend.AssertNotCalled(t, "SubmitDeviceLocation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestLocationService_RequestPermissionAndGetLocation_Denied(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	notifier := new(mocks.MockNotifier)
	backend := new(mocks.MockBackend)

	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionUndetermined, nil)
	provider.On("RequestPermission", mock.Anything).Return(location.PermissionDenied, nil)
	notifier.On("Notify", mock.MatchedBy(func(n models.Notification) bool {
		return n.Kind == constants.NotificationPermissionDenied
	})).Return().Once()

	l := newTestLocationService(provider, backend, newStubSession(models.Device{ID: "dev-1"}), notifier, nil)
	pos := l.RequestPermissionAndGetLocation(context.Background())

	assert.Nil(t, pos)
	notifier.AssertExpectations(t)
	provider.AssertNotCalled(t, "CurrentPosition", mock.Anything, mock.Anything)
	backend.AssertNotCalled(t, "SubmitDeviceLocation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLocationService_RequestPermissionAndGetLocation_AcquisitionError(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionGranted, nil)
	provider.On("CurrentPosition", mock.Anything, location.AccuracyHigh).Return(location.Position{}, errors.New("no fix"))

	l := newTestLocationService(provider, new(mocks.MockBackend), newStubSession(models.Device{ID: "dev-1"}), new(mocks.MockNotifier), nil)

	assert.Nil(t, l.RequestPermissionAndGetLocation(context.Background()))
}

func TestLocationService_ForegroundTransition_RefreshesOnce(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	backend := new(mocks.MockBackend)

	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionGranted, nil)
	provider.On("CurrentPosition", mock.Anything, location.AccuracyHigh).Return(testPosition, nil).Once()
	backend.On("SubmitDeviceLocation", mock.Anything, "token", "dev-1", mock.Anything).Return(nil).Once()

	l := newTestLocationService(provider, backend, newStubSession(models.Device{ID: "dev-1"}), new(mocks.MockNotifier), nil)

	ctx := context.Background()
	l.HandleAppState(ctx, lifecycle.StateActive)
	l.HandleAppState(ctx, lifecycle.StateBackground)
	l.HandleAppState(ctx, lifecycle.StateActive)
	l.HandleAppState(ctx, lifecycle.StateActive)

	provider.AssertNumberOfCalls(t, "CurrentPosition", 1)
	provider.AssertNotCalled(t, "Watch", mock.Anything, mock.Anything, mock.Anything)
	backend.AssertExpectations(t)
}

func TestLocationService_ForegroundTransition_SignedOutDoesNothing(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	l := newTestLocationService(provider, new(mocks.MockBackend), &stubSession{}, new(mocks.MockNotifier), nil)

	l.HandleAppState(context.Background(), lifecycle.StateInactive)
	l.HandleAppState(context.Background(), lifecycle.StateActive)

	provider.AssertNotCalled(t, "CurrentPosition", mock.Anything, mock.Anything)
}

func TestLocationService_StartStop_FollowsSessionAndLifecycle(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	backend := new(mocks.MockBackend)
	sub := new(mocks.MockSubscription)
	events := lifecycle.NewBroadcaster()
	session := newStubSession(models.Device{ID: "dev-1"})

	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionGranted, nil)
	provider.On("Watch", mock.Anything, mock.Anything, mock.Anything).Return(sub, nil)
	provider.On("CurrentPosition", mock.Anything, location.AccuracyHigh).Return(testPosition, nil)
	provider.On("Close").Return(nil).Once()
	backend.On("SubmitDeviceLocation", mock.Anything, "token", "dev-1", mock.Anything).Return(nil)
	sub.On("Cancel").Return()

	l := newTestLocationService(provider, backend, session, new(mocks.MockNotifier), events)

	require.NoError(t, l.Start())
	assert.True(t, l.IsTracking())
	assert.Equal(t, 1, events.Len())

	err := l.Start()
	assert.EqualError(t, err, "location service is already running")

	events.Publish(lifecycle.StateBackground)
	events.Publish(lifecycle.StateActive)
	assert.Eventually(t, func() bool {
		return len(l.LastOutcomes()) == 1
	}, time.Second, 10*time.Millisecond)

	session.set(models.Session{Authenticated: false})
	assert.False(t, l.IsTracking())
	sub.AssertNumberOfCalls(t, "Cancel", 1)

	session.set(models.Session{Authenticated: true, Token: "token", Devices: []models.Device{{ID: "dev-1"}}})
	assert.True(t, l.IsTracking())

	require.NoError(t, l.Stop())
	assert.False(t, l.IsTracking())
	assert.Zero(t, events.Len())
	provider.AssertExpectations(t)

	err = l.Stop()
	assert.EqualError(t, err, "location service is not running")
}

func TestLocationService_NoTrackingAfterStop(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	sub := new(mocks.MockSubscription)
	session := newStubSession(models.Device{ID: "dev-1"})

	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionGranted, nil)
	provider.On("Watch", mock.Anything, mock.Anything, mock.Anything).Return(sub, nil)
	provider.On("Close").Return(nil).Once()
	sub.On("Cancel").Return()

	l := newTestLocationService(provider, new(mocks.MockBackend), session, new(mocks.MockNotifier), nil)
	require.NoError(t, l.Start())
	require.True(t, l.IsTracking())
	require.NoError(t, l.Stop())

	// a listener that was already running when Stop unsubscribed it
	l.HandleSessionChange(context.Background(), session.Snapshot())
	assert.False(t, l.IsTracking())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	l.StartTracking(cancelled)
	assert.False(t, l.IsTracking())

	provider.AssertNumberOfCalls(t, "Watch", 1)
}

func TestLocationService_StartTracking_CancelledContext(t *testing.T) {
	provider := new(mocks.MockLocationProvider)
	provider.On("PermissionStatus", mock.Anything).Return(location.PermissionGranted, nil)

	l := newTestLocationService(provider, new(mocks.MockBackend), newStubSession(), new(mocks.MockNotifier), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.StartTracking(ctx)

	assert.False(t, l.IsTracking())
	provider.AssertNotCalled(t, "Watch", mock.Anything, mock.Anything, mock.Anything)
}
