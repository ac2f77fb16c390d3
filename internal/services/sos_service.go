package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/internal/constants"
	"github.com/benmeehan/sos-agent/internal/metrics"
	"github.com/benmeehan/sos-agent/internal/models"
	"github.com/benmeehan/sos-agent/internal/state_managers"
	"github.com/benmeehan/sos-agent/pkg/api"
	"github.com/benmeehan/sos-agent/pkg/location"
	"github.com/benmeehan/sos-agent/pkg/mqtt"
)

// TriggerError is the single summarized failure of an SOS trigger.
// Message is fit to show to the user.
type TriggerError struct {
	Message string
	Err     error
}

func (e *TriggerError) Error() string {
	return e.Message
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// SOSService sends emergency alerts carrying the host's current position
// and holds the outcome of the last one until it is cleared.
type SOSService struct {
	// Configuration fields
	topic string
	qos   int

	// Dependencies
	provider     location.Provider
	trigger      SOSTrigger
	session      SessionProvider
	stateManager *state_managers.SOSStateManager
	mqttClient   mqtt.MQTTClient
	logger       zerolog.Logger

	mu        sync.Mutex
	result    *models.SOSResult
	errMsg    string
	inFlight  int
	updatedAt time.Time

	// serializes state writes and publishes
	persistMu sync.Mutex

	// Internal state management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSOSService creates a new SOSService. stateManager and mqttClient may be
// nil, in which case state is not persisted and no command topic is served.
func NewSOSService(topic string, qos int, provider location.Provider, trigger SOSTrigger, session SessionProvider,
	stateManager *state_managers.SOSStateManager, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *SOSService {
	return &SOSService{
		topic:        topic,
		qos:          qos,
		provider:     provider,
		trigger:      trigger,
		session:      session,
		stateManager: stateManager,
		mqttClient:   mqttClient,
		logger:       logger,
	}
}

// Trigger acquires a high-accuracy fix and raises an alert at it. On success
// the result is stored and any previous error cleared; on failure a
// *TriggerError is stored and returned. Concurrent calls are not serialized.
func (s *SOSService) Trigger(ctx context.Context) (*models.SOSResult, error) {
	s.mu.Lock()
	s.inFlight++
	s.errMsg = ""
	s.mu.Unlock()
	s.persist()

	pos, err := s.acquirePosition(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	s.logger.Info().
		Float64("latitude", pos.Latitude).
		Float64("longitude", pos.Longitude).
		Msg("Triggering SOS alert")

	result, err := s.trigger.TriggerSOS(ctx, s.session.Snapshot().Token, models.SOSTriggerRequest{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
	})
	if err != nil {
		return nil, s.fail(err)
	}

	s.mu.Lock()
	s.inFlight--
	s.result = result
	s.errMsg = ""
	s.updatedAt = time.Now()
	s.mu.Unlock()

	metrics.SOSTriggersTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	s.logger.Info().
		Str("alert_id", result.AlertID).
		Str("status", result.Status).
		Int("responders", result.Responders.TotalFound).
		Msg("SOS alert sent")
	s.persist()
	return result, nil
}

func (s *SOSService) acquirePosition(ctx context.Context) (location.Position, error) {
	perm, err := s.provider.PermissionStatus(ctx)
	if err == nil && perm != location.PermissionGranted {
		perm, err = s.provider.RequestPermission(ctx)
	}
	if err != nil {
		return location.Position{}, err
	}
	if perm != location.PermissionGranted {
		return location.Position{}, location.ErrPermissionDenied
	}

	pos, err := s.provider.CurrentPosition(ctx, location.AccuracyHigh)
	if err != nil {
		return location.Position{}, err
	}
	// 0,0 is accepted here; only the NMEA reader treats it as "no fix"
	if !pos.Valid() {
		return location.Position{}, errors.New("location provider returned an incomplete position")
	}
	return pos, nil
}

// fail settles a trigger with err as the current error and wraps it into a
// TriggerError.
func (s *SOSService) fail(err error) error {
	outcome := metrics.OutcomeFailure
	msg := api.ServerMessage(err)
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		outcome = metrics.OutcomePermissionDenied
		msg = constants.SOSPermissionDeniedMessage
	case msg == "":
		msg = constants.SOSGenericErrorMessage
	}

	s.mu.Lock()
	s.inFlight--
	s.errMsg = msg
	s.updatedAt = time.Now()
	s.mu.Unlock()

	metrics.SOSTriggersTotal.WithLabelValues(outcome).Inc()
	s.logger.Error().Err(err).Str("message", msg).Msg("SOS alert failed")
	s.persist()
	return &TriggerError{Message: msg, Err: err}
}

// Clear drops the stored result and error. No request is made.
func (s *SOSService) Clear() {
	s.mu.Lock()
	s.result = nil
	s.errMsg = ""
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info().Msg("SOS state cleared")
	s.persist()
}

// State returns the stored result, error and in-progress flag.
func (s *SOSService) State() models.SOSState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// IsTriggering reports whether any trigger is still outstanding.
func (s *SOSService) IsTriggering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

func (s *SOSService) stateLocked() models.SOSState {
	return models.SOSState{
		Result:       s.result,
		Error:        s.errMsg,
		IsTriggering: s.inFlight > 0,
		UpdatedAt:    s.updatedAt,
	}
}

// persist saves and publishes the current state. The snapshot is taken under
// persistMu so the last write always reflects the latest change.
func (s *SOSService) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	state := s.State()
	if s.stateManager != nil {
		// the state manager logs its own failures
		_ = s.stateManager.SaveState(state)
	}
	s.publishState(state)
}

func (s *SOSService) publishState(state models.SOSState) {
	if s.mqttClient == nil || s.topic == "" {
		return
	}

	payload, err := json.Marshal(state)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to serialize SOS state")
		return
	}

	topic := s.topic + "/state"
	token := s.mqttClient.Publish(topic, byte(s.qos), true, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish SOS state")
	}
}

// Start restores the last persisted state and subscribes to the command
// topics when an MQTT client is configured.
func (s *SOSService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("SOSService is already running")
		return errors.New("sos service is already running")
	}

	if s.stateManager != nil {
		state, err := s.stateManager.LoadState()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring unreadable SOS state")
		} else {
			s.mu.Lock()
			s.result = state.Result
			s.errMsg = state.Error
			s.updatedAt = state.UpdatedAt
			s.mu.Unlock()
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.mqttClient != nil && s.topic != "" {
		for _, command := range []string{constants.SOSCommandTrigger, constants.SOSCommandClear} {
			topic := s.topic + "/" + command
			token := s.mqttClient.Subscribe(topic, byte(s.qos), s.handleCommand(s.ctx, command))
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to SOS command topic")
				s.cancel()
				s.ctx, s.cancel = nil, nil
				return err
			}
		}
	}

	s.logger.Info().Str("topic", s.topic).Msg("SOSService started")
	return nil
}

func (s *SOSService) handleCommand(ctx context.Context, command string) MQTT.MessageHandler {
	return func(_ MQTT.Client, msg MQTT.Message) {
		s.logger.Info().Str("topic", msg.Topic()).Msg("Received SOS command")

		switch command {
		case constants.SOSCommandClear:
			s.Clear()
		case constants.SOSCommandTrigger:
			// paho must not be blocked while the fix is acquired
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_, _ = s.Trigger(ctx)
			}()
		}
	}
}

// Stop unsubscribes from the command topics and waits for outstanding
// command-initiated triggers.
func (s *SOSService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("SOSService is not running")
		return errors.New("sos service is not running")
	}

	var err error
	if s.mqttClient != nil && s.topic != "" {
		token := s.mqttClient.Unsubscribe(s.topic+"/"+constants.SOSCommandTrigger, s.topic+"/"+constants.SOSCommandClear)
		token.Wait()
		if err = token.Error(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to unsubscribe from SOS command topics")
		}
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("SOSService stopped")
	return err
}
