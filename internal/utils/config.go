package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/benmeehan/sos-agent/internal/constants"
	"github.com/benmeehan/sos-agent/pkg/file"
)

// EnvPrefix is prepended to every environment override, e.g. SOS_AGENT_API_BASE_URL.
const EnvPrefix = "SOS_AGENT_"

// Location provider kinds
const (
	ProviderGPS    = "gps"
	ProviderGoogle = "google"
)

// Config represents the structure of the configuration file.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	Security SecurityConfig `yaml:"security"`
	Services ServicesConfig `yaml:"services"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // trace, debug, info, warn or error
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY"` // Console output instead of JSON
}

type MQTTConfig struct {
	Enabled       bool   `yaml:"enabled" env:"MQTT_ENABLED"`               // Connect to the local broker at all
	Broker        string `yaml:"broker" env:"MQTT_BROKER"`                 // MQTT broker address
	ClientID      string `yaml:"client_id" env:"MQTT_CLIENT_ID"`           // MQTT client ID prefix
	CACertificate string `yaml:"ca_certificate" env:"MQTT_CA_CERTIFICATE"` // Path to the CA certificate, empty for plain TCP
	Username      string `yaml:"username" env:"MQTT_USERNAME"`
	Password      string `yaml:"password" env:"MQTT_PASSWORD"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" env:"API_BASE_URL"` // Backend root, e.g. https://api.example.com
	Timeout time.Duration `yaml:"timeout" env:"API_TIMEOUT"`   // Per-request timeout
}

type SecurityConfig struct {
	JWTFile    string `yaml:"jwt_file" env:"JWT_FILE"`         // Path to the encrypted session token file
	AESKeyFile string `yaml:"aes_key_file" env:"AES_KEY_FILE"` // Path to the AES key file
}

type ServicesConfig struct {
	Session       SessionConfig  `yaml:"session"`
	Location      LocationConfig `yaml:"location"`
	SOS           SOSConfig      `yaml:"sos"`
	Lifecycle     TopicConfig    `yaml:"lifecycle"`
	Notifications TopicConfig    `yaml:"notifications"`
}

type SessionConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"SESSION_REFRESH_INTERVAL"` // How often auth and devices are re-read
}

type LocationConfig struct {
	Enabled        bool          `yaml:"enabled" env:"LOCATION_ENABLED"`             // Enable/disable location tracking
	Provider       string        `yaml:"provider" env:"LOCATION_PROVIDER"`           // "gps" or "google"
	Interval       time.Duration `yaml:"interval" env:"LOCATION_INTERVAL"`           // Minimum time between tracked samples
	Distance       float64       `yaml:"distance" env:"LOCATION_DISTANCE"`           // Minimum movement in meters between tracked samples
	GPSDevicePort  string        `yaml:"gps_device_port" env:"GPS_DEVICE_PORT"`      // Serial port of the GPS receiver
	GPSBaudRate    int           `yaml:"gps_baud_rate" env:"GPS_BAUD_RATE"`          // Baud rate of the GPS receiver
	MapsAPIKey     string        `yaml:"maps_api_key" env:"MAPS_API_KEY"`            // Google Maps API key
	NetworkConsent bool          `yaml:"network_consent" env:"NETWORK_CONSENT"`      // User agreed to send radio scans to Google
	ModemIndex     int           `yaml:"modem_index" env:"MODEM_INDEX"`              // ModemManager modem used for cell towers
	PollInterval   time.Duration `yaml:"poll_interval" env:"LOCATION_POLL_INTERVAL"` // Sampling period for providers without a stream
}

type SOSConfig struct {
	Enabled   bool   `yaml:"enabled" env:"SOS_ENABLED"`
	Topic     string `yaml:"topic" env:"SOS_TOPIC"` // Command topic prefix, empty disables MQTT commands
	QOS       int    `yaml:"qos" env:"SOS_QOS"`
	StateFile string `yaml:"state_file" env:"SOS_STATE_FILE"` // Where the last SOS outcome is kept
}

// TopicConfig configures an optional MQTT-backed collaborator. An empty
// topic disables it.
type TopicConfig struct {
	Topic string `yaml:"topic"`
	QOS   int    `yaml:"qos"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	ListenAddr string `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"` // Address of the Prometheus endpoint
}

// LoadConfig loads the YAML configuration from the specified file, applies
// SOS_AGENT_* environment overrides and fills in defaults.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	return loadConfig(filename, fileClient, envconfig.OsLookuper())
}

func loadConfig(filename string, fileClient file.FileOperations, lookuper envconfig.Lookuper) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:           &config,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, lookuper),
		DefaultOverwrite: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.Services.Session.RefreshInterval <= 0 {
		c.Services.Session.RefreshInterval = constants.DefaultSessionRefresh
	}
	if c.Services.Location.Provider == "" {
		c.Services.Location.Provider = ProviderGPS
	}
	if c.Services.Location.Interval <= 0 {
		c.Services.Location.Interval = constants.DefaultTrackingInterval
	}
	if c.Services.Location.Distance <= 0 {
		c.Services.Location.Distance = constants.DefaultTrackingDistance
	}
	if c.Services.Location.GPSBaudRate <= 0 {
		c.Services.Location.GPSBaudRate = 9600
	}
	if c.Services.Location.PollInterval <= 0 {
		c.Services.Location.PollInterval = 10 * time.Second
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9102"
	}
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required (or %sAPI_BASE_URL)", EnvPrefix)
	}
	if c.Security.JWTFile == "" || c.Security.AESKeyFile == "" {
		return fmt.Errorf("security.jwt_file and security.aes_key_file are required")
	}

	// SOS needs a fix even when tracking is off
	needsProvider := c.Services.Location.Enabled || c.Services.SOS.Enabled

	switch c.Services.Location.Provider {
	case ProviderGPS:
		if needsProvider && c.Services.Location.GPSDevicePort == "" {
			return fmt.Errorf("services.location.gps_device_port is required for the gps provider")
		}
	case ProviderGoogle:
		if needsProvider && c.Services.Location.MapsAPIKey == "" {
			return fmt.Errorf("services.location.maps_api_key is required for the google provider")
		}
	default:
		return fmt.Errorf("unknown location provider %q", c.Services.Location.Provider)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}
