package lifecycle

import (
	"encoding/json"
	"fmt"
	"sync"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/pkg/mqtt"
)

// stateMessage is the payload published by the host application.
type stateMessage struct {
	State State `json:"state"`
}

// MQTTSource reads state changes from an MQTT topic. The broker subscription
// is held only while at least one handler is registered.
type MQTTSource struct {
	topic  string
	qos    byte
	client mqtt.MQTTClient
	logger zerolog.Logger

	mu          sync.Mutex
	broadcaster *Broadcaster
	subscribed  bool
}

// NewMQTTSource creates a source bound to topic.
func NewMQTTSource(topic string, qos int, client mqtt.MQTTClient, logger zerolog.Logger) *MQTTSource {
	return &MQTTSource{
		topic:       topic,
		qos:         byte(qos),
		client:      client,
		logger:      logger,
		broadcaster: NewBroadcaster(),
	}
}

// Subscribe registers handler, subscribing to the broker on first use.
func (s *MQTTSource) Subscribe(handler Handler) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.subscribed {
		token := s.client.Subscribe(s.topic, s.qos, s.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", s.topic, err)
		}
		s.subscribed = true
		s.logger.Info().Str("topic", s.topic).Msg("Subscribed to app lifecycle topic")
	}

	remove, _ := s.broadcaster.Subscribe(handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			s.release()
		})
	}, nil
}

// release drops the broker subscription once nobody listens.
func (s *MQTTSource) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.subscribed || s.broadcaster.Len() > 0 {
		return
	}

	token := s.client.Unsubscribe(s.topic)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error().Err(err).Str("topic", s.topic).Msg("Failed to unsubscribe from app lifecycle topic")
	}
	s.subscribed = false
}

func (s *MQTTSource) onMessage(_ mqttLib.Client, msg mqttLib.Message) {
	var m stateMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil || !m.State.Valid() {
		s.logger.Warn().Str("payload", string(msg.Payload())).Msg("Ignoring malformed app lifecycle message")
		return
	}

	s.logger.Debug().Str("state", string(m.State)).Msg("App lifecycle transition received")
	s.broadcaster.Publish(m.State)
}
