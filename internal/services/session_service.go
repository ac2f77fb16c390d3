package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/internal/models"
	"github.com/benmeehan/sos-agent/internal/utils"
	"github.com/benmeehan/sos-agent/pkg/api"
	"github.com/benmeehan/sos-agent/pkg/jwt"
)

// SessionService keeps the current auth state and device list and tells
// listeners when either changes.
type SessionService struct {
	// Configuration fields
	interval time.Duration

	// Dependencies
	jwtManager jwt.JWTManagerInterface
	devices    DeviceLister
	logger     zerolog.Logger

	mu        sync.RWMutex
	current   models.Session
	listeners map[int]func(models.Session)
	nextID    int

	// Internal state management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionService creates a SessionService refreshing every interval.
func NewSessionService(interval time.Duration, jwtManager jwt.JWTManagerInterface, devices DeviceLister, logger zerolog.Logger) *SessionService {
	return &SessionService{
		interval:   interval,
		jwtManager: jwtManager,
		devices:    devices,
		logger:     logger,
		listeners:  make(map[int]func(models.Session)),
	}
}

// Snapshot returns a copy of the current session.
func (s *SessionService) Snapshot() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Subscribe registers a listener for session changes.
func (s *SessionService) Subscribe(listener func(models.Session)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Refresh re-reads the token and the device list. Listeners are called when
// the authenticated flag or the set of device ids changed.
func (s *SessionService) Refresh(ctx context.Context) error {
	if err := s.jwtManager.LoadJWT(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to load session token")
	}

	token := s.jwtManager.GetJWT()
	next := models.Session{Authenticated: token != "", Token: token}

	prev := s.Snapshot()

	var refreshErr error
	if next.Authenticated {
		devices, err := s.devices.ListDevices(ctx, token)
		switch {
		case err == nil:
			next.Devices = devices
		case api.IsUnauthorized(err):
			s.logger.Warn().Msg("Backend rejected session token, treating user as signed out")
			next = models.Session{}
		default:
			s.logger.Error().Err(err).Msg("Failed to list devices, keeping previous device list")
			next.Devices = prev.Devices
			refreshErr = err
		}
	}

	s.mu.Lock()
	s.current = next
	listeners := make([]func(models.Session), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	if sessionChanged(prev, next) {
		s.logger.Info().
			Bool("authenticated", next.Authenticated).
			Int("devices", len(next.Devices)).
			Msg("Session changed")
		for _, l := range listeners {
			l(next.Clone())
		}
	}

	return refreshErr
}

// Start performs an initial refresh and then refreshes on a ticker.
func (s *SessionService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("SessionService is already running")
		return errors.New("session service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	// devices may be unreachable at boot; the ticker retries
	_ = s.Refresh(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRefreshLoop()
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("SessionService started")
	return nil
}

// Stop halts the refresh loop.
func (s *SessionService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("SessionService is not running")
		return errors.New("session service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("SessionService stopped")
	return nil
}

func (s *SessionService) runRefreshLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.Refresh(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

// sessionChanged compares the parts of a session that drive tracking.
func sessionChanged(prev, next models.Session) bool {
	if prev.Authenticated != next.Authenticated || len(prev.Devices) != len(next.Devices) {
		return true
	}

	ids := make([]string, 0, len(prev.Devices))
	for _, d := range prev.Devices {
		ids = append(ids, d.ID)
	}
	known := utils.SliceToSet(ids)
	for _, d := range next.Devices {
		if _, ok := known[d.ID]; !ok {
			return true
		}
	}
	return false
}
