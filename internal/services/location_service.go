package services

import (
	"context"
	"errors"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/internal/constants"
	"github.com/benmeehan/sos-agent/internal/metrics"
	"github.com/benmeehan/sos-agent/internal/models"
	"github.com/benmeehan/sos-agent/pkg/lifecycle"
	"github.com/benmeehan/sos-agent/pkg/location"
)

// LocationService keeps a continuous watch on the host's position while the
// user is signed in and owns devices, and submits every sample for each of
// those devices.
type LocationService struct {
	// Configuration fields
	interval time.Duration
	distance float64

	// Dependencies
	provider  location.Provider
	submitter LocationSubmitter
	session   SessionProvider
	notifier  Notifier
	appEvents lifecycle.Source
	logger    zerolog.Logger

	// outcomes holds the last submission outcome per device id
	outcomes cmap.ConcurrentMap[string, models.SubmissionOutcome]

	// mu guards the subscription handle, the last app state and stopped
	mu           sync.Mutex
	subscription location.Subscription
	appState     lifecycle.State
	stopped      bool

	// Internal state management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	unsubscribes []func()
}

// NewLocationService creates a new LocationService. A zero interval or
// distance falls back to 30s / 100m.
func NewLocationService(interval time.Duration, distance float64, provider location.Provider, submitter LocationSubmitter,
	session SessionProvider, notifier Notifier, appEvents lifecycle.Source, logger zerolog.Logger) *LocationService {
	if interval <= 0 {
		interval = constants.DefaultTrackingInterval
	}
	if distance <= 0 {
		distance = constants.DefaultTrackingDistance
	}

	return &LocationService{
		interval:  interval,
		distance:  distance,
		provider:  provider,
		submitter: submitter,
		session:   session,
		notifier:  notifier,
		appEvents: appEvents,
		logger:    logger,
		outcomes:  cmap.New[models.SubmissionOutcome](),
		appState:  lifecycle.StateActive,
	}
}

// RequestPermissionAndGetLocation asks for location permission if needed,
// takes one high-accuracy fix and submits it for every device. It returns
// nil when permission is denied or no fix could be taken.
func (l *LocationService) RequestPermissionAndGetLocation(ctx context.Context) *location.Position {
	perm, err := l.provider.PermissionStatus(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to read location permission")
		return nil
	}

	if perm != location.PermissionGranted {
		perm, err = l.provider.RequestPermission(ctx)
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to request location permission")
			return nil
		}
	}

	if perm != location.PermissionGranted {
		l.logger.Warn().Str("permission", string(perm)).Msg("Location permission denied")
		l.notifier.Notify(models.Notification{
			Kind:      constants.NotificationPermissionDenied,
			Title:     "Location permission required",
			Message:   constants.LocationPermissionNotice,
			Timestamp: time.Now(),
		})
		return nil
	}

	pos, err := l.provider.CurrentPosition(ctx, location.AccuracyHigh)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to get current location")
		return nil
	}

	l.UpdateDeviceLocations(ctx, pos)
	return &pos
}

// StartTracking replaces any active watch with a new one, provided location
// permission is already granted. It never prompts for permission.
// ctx bounds the lifetime of the watch. It does nothing once ctx is done or
// the service has been stopped.
func (l *LocationService) StartTracking(ctx context.Context) {
	perm, err := l.provider.PermissionStatus(ctx)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to read location permission")
		return
	}
	if perm != location.PermissionGranted {
		l.logger.Info().Str("permission", string(perm)).Msg("Location permission not granted, tracking not started")
		return
	}

	// submissions in flight when the watch is cancelled are left to finish
	submitCtx := context.WithoutCancel(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	// a session listener may still fire while Stop is running
	if l.stopped || ctx.Err() != nil {
		return
	}

	l.stopTrackingLocked()

	sub, err := l.provider.Watch(ctx, location.WatchOptions{
		Accuracy:    location.AccuracyBalanced,
		MinInterval: l.interval,
		MinDistance: l.distance,
		OnError: func(err error) {
			l.logger.Error().Err(err).Msg("Location watch failed to produce a sample")
		},
	}, func(pos location.Position) {
		l.UpdateDeviceLocations(submitCtx, pos)
	})
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to start location watch")
		return
	}

	l.subscription = sub
	metrics.TrackingActive.Set(1)
	l.logger.Info().
		Dur("interval", l.interval).
		Float64("distance_m", l.distance).
		Msg("Location tracking started")
}

// StopTracking cancels the active watch, if any.
func (l *LocationService) StopTracking() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTrackingLocked()
}

func (l *LocationService) stopTrackingLocked() {
	if l.subscription == nil {
		return
	}
	l.subscription.Cancel()
	l.subscription = nil
	metrics.TrackingActive.Set(0)
	l.logger.Info().Msg("Location tracking stopped")
}

// IsTracking reports whether a watch is active.
func (l *LocationService) IsTracking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscription != nil
}

// TrackingState returns "watching" or "idle".
func (l *LocationService) TrackingState() string {
	if l.IsTracking() {
		return constants.TrackingWatching
	}
	return constants.TrackingIdle
}

// UpdateDeviceLocations submits pos for every device in the current session
// snapshot. Submissions run concurrently and the call returns once all of
// them settled. Failures are logged, never retried and never returned.
func (l *LocationService) UpdateDeviceLocations(ctx context.Context, pos location.Position) []models.SubmissionOutcome {
	session := l.session.Snapshot()
	if !session.CanTrack() {
		return nil
	}
	if !pos.Valid() {
		l.logger.Warn().
			Float64("latitude", pos.Latitude).
			Float64("longitude", pos.Longitude).
			Msg("Skipping location update without valid coordinates")
		return nil
	}

	submission := models.LocationSubmission{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Altitude:  pos.Altitude,
		Speed:     pos.Speed,
		Heading:   pos.Heading,
		Accuracy:  pos.Accuracy,
		Source:    constants.LocationSourceGPS,
	}

	start := time.Now()
	outcomes := make([]models.SubmissionOutcome, len(session.Devices))

	var wg sync.WaitGroup
	for i, device := range session.Devices {
		wg.Add(1)
		go func(i int, device models.Device) {
			defer wg.Done()

			err := l.submitter.SubmitDeviceLocation(ctx, session.Token, device.ID, submission)
			outcome := models.SubmissionOutcome{
				DeviceID:  device.ID,
				Success:   err == nil,
				Timestamp: time.Now(),
			}
			if err != nil {
				outcome.Error = err.Error()
				l.logger.Error().
					Err(err).
					Str("device_id", device.ID).
					Str("device_name", device.Name).
					Msg("Failed to update device location")
			}

			metrics.LocationSubmissionsTotal.WithLabelValues(metrics.OutcomeLabel(err)).Inc()
			l.outcomes.Set(device.ID, outcome)
			outcomes[i] = outcome
		}(i, device)
	}
	wg.Wait()

	metrics.LocationFanoutDuration.Observe(time.Since(start).Seconds())
	l.logger.Debug().
		Int("devices", len(session.Devices)).
		Dur("duration", time.Since(start)).
		Msg("Device locations updated")
	return outcomes
}

// LastOutcomes returns the most recent submission outcome for each device.
func (l *LocationService) LastOutcomes() map[string]models.SubmissionOutcome {
	return l.outcomes.Items()
}

// HandleSessionChange starts tracking once the user is signed in with at
// least one device and stops it when either condition no longer holds.
func (l *LocationService) HandleSessionChange(ctx context.Context, session models.Session) {
	if !session.CanTrack() {
		l.StopTracking()
		return
	}
	if !l.IsTracking() {
		l.StartTracking(ctx)
	}
}

// HandleAppState refreshes the location once when the app returns to the
// foreground. It does not touch the continuous watch.
func (l *LocationService) HandleAppState(ctx context.Context, state lifecycle.State) {
	if l.becameActive(state) {
		l.refreshInForeground(ctx)
	}
}

// becameActive records state and reports a non-active to active transition.
func (l *LocationService) becameActive(state lifecycle.State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.appState
	l.appState = state
	return state == lifecycle.StateActive && prev != lifecycle.StateActive
}

func (l *LocationService) refreshInForeground(ctx context.Context) {
	if !l.session.Snapshot().CanTrack() {
		return
	}

	l.logger.Debug().Msg("App became active, refreshing location")
	l.RequestPermissionAndGetLocation(ctx)
}

// Start subscribes to session and app lifecycle events and applies the
// current session.
func (l *LocationService) Start() error {
	if l.ctx != nil {
		l.logger.Warn().Msg("LocationService is already running")
		return errors.New("location service is already running")
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	ctx := l.ctx

	l.mu.Lock()
	l.stopped = false
	l.mu.Unlock()

	if l.appEvents != nil {
		unsubscribe, err := l.appEvents.Subscribe(func(state lifecycle.State) {
			if !l.becameActive(state) {
				return
			}
			// lifecycle callbacks must not block their source
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.refreshInForeground(ctx)
			}()
		})
		if err != nil {
			l.cancel()
			l.ctx, l.cancel = nil, nil
			return err
		}
		l.unsubscribes = append(l.unsubscribes, unsubscribe)
	}

	l.unsubscribes = append(l.unsubscribes, l.session.Subscribe(func(session models.Session) {
		l.HandleSessionChange(ctx, session)
	}))
	l.HandleSessionChange(ctx, l.session.Snapshot())

	l.logger.Info().
		Dur("interval", l.interval).
		Float64("distance_m", l.distance).
		Msg("LocationService started")
	return nil
}

// Stop releases event subscriptions, cancels tracking and closes the provider.
func (l *LocationService) Stop() error {
	if l.ctx == nil {
		l.logger.Warn().Msg("LocationService is not running")
		return errors.New("location service is not running")
	}

	for _, unsubscribe := range l.unsubscribes {
		unsubscribe()
	}
	l.unsubscribes = nil

	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	l.cancel()
	l.StopTracking()
	l.wg.Wait()

	l.ctx = nil
	l.cancel = nil

	if err := l.provider.Close(); err != nil {
		l.logger.Error().Err(err).Msg("Failed to close location provider")
		return err
	}

	l.logger.Info().Msg("LocationService stopped")
	return nil
}
