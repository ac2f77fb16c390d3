package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/sos-agent/pkg/file"
)

const minimalConfig = `
api:
  base_url: https://api.example.com
security:
  jwt_file: session.enc
  aes_key_file: aes.key
services:
  location:
    enabled: true
    gps_device_port: /dev/ttyUSB0
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	config, err := loadConfig(path, file.NewFileService(), envconfig.MapLookuper(nil))
	require.NoError(t, err)

	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, ProviderGPS, config.Services.Location.Provider)
	assert.Equal(t, 30*time.Second, config.Services.Location.Interval)
	assert.Equal(t, 100.0, config.Services.Location.Distance)
	assert.Equal(t, 9600, config.Services.Location.GPSBaudRate)
	assert.Equal(t, 60*time.Second, config.Services.Session.RefreshInterval)
	assert.Equal(t, 15*time.Second, config.API.Timeout)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	config, err := loadConfig(path, file.NewFileService(), envconfig.MapLookuper(map[string]string{
		"SOS_AGENT_API_BASE_URL":      "https://staging.example.com",
		"SOS_AGENT_LOCATION_INTERVAL": "45s",
		"SOS_AGENT_LOCATION_PROVIDER": "google",
		"SOS_AGENT_MAPS_API_KEY":      "maps-key",
		"API_BASE_URL":                "https://ignored.example.com",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com", config.API.BaseURL)
	assert.Equal(t, 45*time.Second, config.Services.Location.Interval)
	assert.Equal(t, ProviderGoogle, config.Services.Location.Provider)
	assert.Equal(t, "maps-key", config.Services.Location.MapsAPIKey)
	assert.Equal(t, "/dev/ttyUSB0", config.Services.Location.GPSDevicePort)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown provider",
			env:     map[string]string{"SOS_AGENT_LOCATION_PROVIDER": "carrier-pigeon"},
			wantErr: `unknown location provider "carrier-pigeon"`,
		},
		{
			name:    "google without key",
			env:     map[string]string{"SOS_AGENT_LOCATION_PROVIDER": "google"},
			wantErr: "maps_api_key is required",
		},
		{
			name:    "mqtt without broker",
			env:     map[string]string{"SOS_AGENT_MQTT_ENABLED": "true"},
			wantErr: "mqtt.broker is required",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"SOS_AGENT_API_TIMEOUT": "soon"},
			wantErr: "failed to apply environment overrides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, minimalConfig)
			_, err := loadConfig(path, file.NewFileService(), envconfig.MapLookuper(tt.env))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), file.NewFileService())
	assert.Error(t, err)
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	config, err := loadConfig(filepath.Join("..", "..", "configs", "config.yaml"), file.NewFileService(), envconfig.MapLookuper(nil))
	require.NoError(t, err)

	assert.Equal(t, "sos-agent/sos", config.Services.SOS.Topic)
	assert.True(t, config.Metrics.Enabled)
}
