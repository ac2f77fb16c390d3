package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/internal/metrics"
	"github.com/benmeehan/sos-agent/internal/service_registry"
	"github.com/benmeehan/sos-agent/internal/utils"
	"github.com/benmeehan/sos-agent/pkg/api"
	"github.com/benmeehan/sos-agent/pkg/encryption"
	"github.com/benmeehan/sos-agent/pkg/file"
	"github.com/benmeehan/sos-agent/pkg/jwt"
	"github.com/benmeehan/sos-agent/pkg/logger"
	"github.com/benmeehan/sos-agent/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	triggerSOS := flag.Bool("sos", false, "send one SOS alert at the current location and exit")
	setToken := flag.String("set-token", "", "store a session token issued by the backend and exit")
	logout := flag.Bool("logout", false, "remove the stored session token and exit")
	flag.Parse()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file and environment
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Options{Level: config.Log.Level, Pretty: config.Log.Pretty})

	encryptionManager := encryption.NewEncryptionManager(fileClient)
	if err := encryptionManager.Initialize(config.Security.AESKeyFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption manager")
	}

	jwtManager := jwt.NewJWTManager(config.Security.JWTFile, fileClient, encryptionManager)

	switch {
	case *setToken != "":
		if err := jwtManager.SaveJWT(*setToken); err != nil {
			log.Fatal().Err(err).Msg("Failed to store session token")
		}
		log.Info().Msg("Session token stored")
		return
	case *logout:
		if err := jwtManager.ClearJWT(); err != nil {
			log.Fatal().Err(err).Msg("Failed to remove session token")
		}
		log.Info().Msg("Session token removed")
		return
	}

	if err := jwtManager.LoadJWT(); err != nil {
		log.Warn().Err(err).Msg("Failed to load session token, starting signed out")
	}

	backend := api.NewClient(config.API.BaseURL, config.API.Timeout, log.With().Str("component", "api").Logger())

	// Initialize the shared MQTT connection, if any
	var mqttClient mqtt.MQTTClient
	if config.MQTT.Enabled && !*triggerSOS {
		// Generate a unique MQTT Client ID by appending a UUID
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		log.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

		mqttService := mqtt.NewMqttService(fileClient)
		err := mqttService.Initialize(mqtt.Options{
			Broker:        config.MQTT.Broker,
			ClientID:      clientID,
			CACertificate: config.MQTT.CACertificate,
			Username:      config.MQTT.Username,
			Password:      config.MQTT.Password,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, fileClient, jwtManager, backend, log)
	if err := serviceRegistry.RegisterServices(config); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	if *triggerSOS {
		os.Exit(runSOSOnce(serviceRegistry, log))
	}

	var metricsServer *http.Server
	if config.Metrics.Enabled {
		metricsServer = startMetricsServer(config.Metrics.ListenAddr, log)
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services did not stop cleanly")
	}

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}

// runSOSOnce refreshes the session, sends one alert and prints the resulting
// state as JSON. It returns the process exit code.
func runSOSOnce(serviceRegistry *service_registry.ServiceRegistry, log zerolog.Logger) int {
	sos := serviceRegistry.SOS()
	if sos == nil {
		log.Error().Msg("SOS service is disabled in the configuration")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serviceRegistry.Session().Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Session refresh failed, sending SOS with the stored token")
	}

	_, err := sos.Trigger(ctx)

	out, marshalErr := json.MarshalIndent(sos.State(), "", "  ")
	if marshalErr == nil {
		fmt.Println(string(out))
	}
	if err != nil {
		return 1
	}
	return 0
}

func startMetricsServer(addr string, log zerolog.Logger) *http.Server {
	prometheus.MustRegister(metrics.NewHostCollector("/", log.With().Str("component", "metrics").Logger()))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	return server
}
