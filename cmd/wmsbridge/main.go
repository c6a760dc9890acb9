// WMS Bridge - Warema WMS to MQTT reconciliation engine.
//
// Bridges a Warema WMS USB transceiver (via the wmsd gateway daemon)
// with an MQTT control plane: deduplicates the noisy radio stream,
// smooths weather telemetry, debounces the rain signal, arbitrates
// dimmer echo loops and derives semantic cover state, with Home
// Assistant discovery and retained-state replay after reconnects.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/wms-bridge/internal/bridge"
	"github.com/nerrad567/wms-bridge/internal/device"
	"github.com/nerrad567/wms-bridge/internal/infrastructure/config"
	"github.com/nerrad567/wms-bridge/internal/infrastructure/database"
	"github.com/nerrad567/wms-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/wms-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/wms-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/wms-bridge/internal/wms"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// snapshotDebounce delays registry persistence after a mutation so a
// burst of feedback collapses into one write.
const snapshotDebounce = 2 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting WMS bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the snapshot store
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	// Initialise the device registry, seeded from the last snapshot.
	// An empty store is a fresh start, not an error.
	repo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry()
	registry.SetLogger(log)

	snapshots, err := repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading device snapshots: %w", err)
	}
	seeded := registry.Seed(snapshots)
	log.Info("device registry initialised", "seeded", seeded)

	// Connect to the MQTT broker. The broker delivers the will payload
	// on our behalf if the process dies without a clean shutdown.
	topics := bridge.NewTopics(cfg.Bridge.RootTopic, cfg.Bridge.DiscoveryPrefix)
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
		Topic:   topics.BridgeState(),
		Payload: "offline",
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional weather history)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to the wmsd gateway daemon
	stick, err := wms.Connect(ctx, wms.Config{
		Host:                 cfg.Stick.Host,
		Port:                 cfg.Stick.Port,
		Channel:              cfg.Stick.Channel,
		PANID:                cfg.Stick.PANID,
		ReconnectInterval:    cfg.GetStickInitialDelay(),
		MaxReconnectInterval: cfg.GetStickMaxDelay(),
	})
	if err != nil {
		return fmt.Errorf("connecting to wmsd: %w", err)
	}
	defer func() {
		log.Info("closing stick connection")
		if closeErr := stick.Close(); closeErr != nil {
			log.Error("error closing stick", "error", closeErr)
		}
	}()
	stick.SetLogger(log)
	log.Info("stick connected",
		"host", cfg.Stick.Host,
		"port", cfg.Stick.Port,
		"channel", cfg.Stick.Channel,
	)

	// Assemble the reconciliation engine
	engine, err := bridge.New(bridge.Options{
		Config:   engineConfig(cfg),
		MQTT:     &mqttBridgeAdapter{client: mqttClient},
		Stick:    stick,
		Registry: registry,
		Store:    repo,
		Weather:  weatherSink(influxClient),
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if err := engine.Start(); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		engine.Stop()
	}()

	// Wire transport signals and the event stream. The MQTT client is
	// already connected, so fire the connect signal by hand; reconnects
	// arrive through the callback.
	mqttClient.SetOnConnect(engine.OnMQTTConnect)
	mqttClient.SetOnDisconnect(engine.OnMQTTConnectionLost)
	stick.SetOnEvent(engine.HandleStickEvent)
	stick.SetOnDisconnect(engine.OnStickConnectionLost)
	engine.OnMQTTConnect()

	go logStickStats(ctx, log, stick)

	if err := healthCheck(ctx, db, mqttClient, stick, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// engineConfig maps the loaded configuration onto the engine tunables.
func engineConfig(cfg *config.Config) bridge.Config {
	publishMidFlight := true
	if cfg.Engine.PublishMidFlight != nil {
		publishMidFlight = *cfg.Engine.PublishMidFlight
	}

	return bridge.Config{
		BridgeName:             cfg.Bridge.Name,
		RootTopic:              cfg.Bridge.RootTopic,
		DiscoveryPrefix:        cfg.Bridge.DiscoveryPrefix,
		QoS:                    byte(cfg.MQTT.QoS),
		MinRawSpacing:          time.Duration(cfg.Engine.MinRawSpacingMs) * time.Millisecond,
		EMAAlpha:               cfg.Engine.EMAAlpha,
		WeatherPublishInterval: time.Duration(cfg.Engine.WeatherPublishIntervalSec) * time.Second,
		RainOnDelay:            time.Duration(cfg.Engine.RainOnDelaySec) * time.Second,
		RainOffDelay:           time.Duration(cfg.Engine.RainOffDelaySec) * time.Second,
		CommandTimeout:         time.Duration(cfg.Engine.CommandTimeoutSec) * time.Second,
		BrightnessSteps:        cfg.Engine.BrightnessSteps,
		Quantization:           bridge.QuantizeMode(cfg.Engine.Quantization),
		PublishMidFlight:       publishMidFlight,
		SnapshotDebounce:       snapshotDebounce,
	}
}

// weatherSink returns the influx client as an optional sink. A typed
// nil pointer inside a non-nil interface would defeat the engine's nil
// check, so the conversion is explicit.
func weatherSink(client *influxdb.Client) bridge.WeatherSink {
	if client == nil {
		return nil
	}
	return client
}

// statsInterval spaces the periodic stick traffic log.
const statsInterval = 60 * time.Second

// logStickStats reports stick frame counters at debug level until the
// context is cancelled.
func logStickStats(ctx context.Context, log *logging.Logger, stick *wms.Stick) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := stick.Stats()
			log.Debug("stick traffic",
				"frames_tx", stats.FramesTx,
				"frames_rx", stats.FramesRx,
				"frames_dropped", stats.FramesDropped,
				"errors", stats.ErrorsTotal,
				"reconnects", stats.ReconnectsTotal,
				"connected", stats.Connected,
			)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses WMSBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WMSBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, stick *wms.Stick, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := stick.HealthCheck(ctx); err != nil {
		return fmt.Errorf("stick: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the
// engine's MQTTClient interface. The difference is the Subscribe
// handler signature: the engine's handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// PublishString implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) PublishString(topic string, payload string, qos byte, retained bool) error {
	return a.client.PublishString(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
