package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/internal/registry"
	"github.com/benmeehan/sos-agent/internal/services"
	"github.com/benmeehan/sos-agent/internal/state_managers"
	"github.com/benmeehan/sos-agent/internal/utils"
	"github.com/benmeehan/sos-agent/pkg/api"
	"github.com/benmeehan/sos-agent/pkg/file"
	"github.com/benmeehan/sos-agent/pkg/jwt"
	"github.com/benmeehan/sos-agent/pkg/lifecycle"
	"github.com/benmeehan/sos-agent/pkg/location"
	"github.com/benmeehan/sos-agent/pkg/mqtt"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	mqttClient  mqtt.MQTTClient             // nil when MQTT is disabled
	fileClient  file.FileOperations
	jwtManager  jwt.JWTManagerInterface
	backend     *api.Client
	Logger      zerolog.Logger

	session *services.SessionService
	sos     *services.SOSService
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, fileClient file.FileOperations, jwtManager jwt.JWTManagerInterface,
	backend *api.Client, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		fileClient: fileClient,
		jwtManager: jwtManager,
		backend:    backend,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// Session returns the session service, nil before RegisterServices.
func (sr *ServiceRegistry) Session() *services.SessionService {
	return sr.session
}

// SOS returns the SOS service, nil when it is disabled.
func (sr *ServiceRegistry) SOS() *services.SOSService {
	return sr.sos
}

// RegisterServices builds the session service and the enabled location and
// SOS services from configuration. The session service always comes first so
// the others see an initial snapshot when they start.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config) error {
	svcConfig := config.Services

	sr.session = services.NewSessionService(svcConfig.Session.RefreshInterval, sr.jwtManager, sr.backend,
		sr.Logger.With().Str("service", "session").Logger())

	var provider location.Provider
	if svcConfig.Location.Enabled || svcConfig.SOS.Enabled {
		var err error
		provider, err = newLocationProvider(svcConfig.Location)
		if err != nil {
			sr.Logger.Error().Err(err).Msg("Failed to create location provider")
			return err
		}
	}

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() registry.Service
	}{
		{
			name:        "session",
			enabled:     true,
			constructor: func() registry.Service { return sr.session },
		},
		{
			name:    "location",
			enabled: svcConfig.Location.Enabled,
			constructor: func() registry.Service {
				logger := sr.Logger.With().Str("service", "location").Logger()
				return services.NewLocationService(
					svcConfig.Location.Interval,
					svcConfig.Location.Distance,
					provider,
					sr.backend,
					sr.session,
					sr.newNotifier(svcConfig.Notifications, logger),
					sr.newLifecycleSource(svcConfig.Lifecycle, logger),
					logger,
				)
			},
		},
		{
			name:    "sos",
			enabled: svcConfig.SOS.Enabled,
			constructor: func() registry.Service {
				logger := sr.Logger.With().Str("service", "sos").Logger()

				var stateManager *state_managers.SOSStateManager
				if svcConfig.SOS.StateFile != "" {
					stateManager = state_managers.NewSOSStateManager(svcConfig.SOS.StateFile, sr.fileClient, logger)
				}

				sr.sos = services.NewSOSService(
					svcConfig.SOS.Topic,
					svcConfig.SOS.QOS,
					provider,
					sr.backend,
					sr.session,
					stateManager,
					sr.mqttClient,
					logger,
				)
				return sr.sos
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			sr.RegisterService(svc.name, svc.constructor())
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}

// newNotifier publishes notifications over MQTT when a topic is configured
// and logs them otherwise.
func (sr *ServiceRegistry) newNotifier(cfg utils.TopicConfig, logger zerolog.Logger) services.Notifier {
	if sr.mqttClient == nil || cfg.Topic == "" {
		return services.LogNotifier{Logger: logger}
	}
	return services.NewMQTTNotifier(cfg.Topic, cfg.QOS, sr.mqttClient, logger)
}

// newLifecycleSource returns nil when there is no way to learn about app
// state changes.
func (sr *ServiceRegistry) newLifecycleSource(cfg utils.TopicConfig, logger zerolog.Logger) lifecycle.Source {
	if sr.mqttClient == nil || cfg.Topic == "" {
		return nil
	}
	return lifecycle.NewMQTTSource(cfg.Topic, cfg.QOS, sr.mqttClient, logger)
}

func newLocationProvider(cfg utils.LocationConfig) (location.Provider, error) {
	switch cfg.Provider {
	case utils.ProviderGoogle:
		return location.NewGoogleGeolocationProvider(cfg.MapsAPIKey, cfg.NetworkConsent, cfg.ModemIndex, cfg.PollInterval)
	case utils.ProviderGPS:
		return location.NewDeviceSensorProvider(cfg.GPSDevicePort, cfg.GPSBaudRate), nil
	default:
		return nil, fmt.Errorf("unknown location provider %q", cfg.Provider)
	}
}
