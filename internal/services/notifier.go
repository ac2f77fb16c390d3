package services

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/internal/models"
	"github.com/benmeehan/sos-agent/pkg/mqtt"
)

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(msg models.Notification) {
	n.Logger.Warn().
		Str("kind", msg.Kind).
		Str("title", msg.Title).
		Msg(msg.Message)
}

// MQTTNotifier publishes notifications for the host UI to display.
type MQTTNotifier struct {
	topic      string
	qos        int
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger
}

// NewMQTTNotifier creates a notifier publishing to topic.
func NewMQTTNotifier(topic string, qos int, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *MQTTNotifier {
	return &MQTTNotifier{topic: topic, qos: qos, mqttClient: mqttClient, logger: logger}
}

func (n *MQTTNotifier) Notify(msg models.Notification) {
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to serialize notification")
		return
	}

	token := n.mqttClient.Publish(n.topic, byte(n.qos), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		n.logger.Error().Err(err).Str("topic", n.topic).Msg("Failed to publish notification")
		return
	}
	n.logger.Info().Str("kind", msg.Kind).Str("topic", n.topic).Msg("Notification published")
}
