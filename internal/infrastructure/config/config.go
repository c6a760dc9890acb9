package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the WMS bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Stick    StickConfig    `yaml:"stick"`
	Engine   EngineConfig   `yaml:"engine"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig contains bridge identity and topic settings.
type BridgeConfig struct {
	// Name identifies this bridge instance in logs and discovery payloads.
	Name string `yaml:"name"`

	// RootTopic is the prefix for all device topics (default "warema").
	RootTopic string `yaml:"root_topic"`

	// DiscoveryPrefix is the Home Assistant discovery prefix
	// (default "homeassistant").
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// StickConfig contains WMS transceiver gateway connection settings.
type StickConfig struct {
	// Host and Port locate the wmsd gateway daemon that owns the
	// USB transceiver.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Channel is the WMS radio channel (1-22).
	Channel int `yaml:"channel"`

	// PANID is the WMS network identifier as four hex digits.
	PANID string `yaml:"pan_id"`

	// ReconnectInitialDelay and ReconnectMaxDelay bound the backoff
	// between reconnection attempts, in seconds.
	ReconnectInitialDelay int `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     int `yaml:"reconnect_max_delay"`
}

// EngineConfig contains reconciliation engine tuning.
// Zero values select the defaults applied by the bridge package.
type EngineConfig struct {
	// MinRawSpacingMs is the duplicate suppression window for repeated
	// hardware broadcasts, in milliseconds.
	MinRawSpacingMs int `yaml:"min_raw_spacing_ms"`

	// EMAAlpha is the weather smoothing factor in (0,1].
	EMAAlpha float64 `yaml:"ema_alpha"`

	// WeatherPublishIntervalSec is the minimum spacing between weather
	// publishes per sensor, in seconds.
	WeatherPublishIntervalSec int `yaml:"weather_publish_interval_sec"`

	// RainOnDelaySec and RainOffDelaySec are the asymmetric hysteresis
	// delays for rain state commits, in seconds.
	RainOnDelaySec  int `yaml:"rain_on_delay_sec"`
	RainOffDelaySec int `yaml:"rain_off_delay_sec"`

	// CommandTimeoutSec releases a pending brightness command when no
	// matching feedback arrives, in seconds.
	CommandTimeoutSec int `yaml:"command_timeout_sec"`

	// BrightnessSteps is the discrete level set the dimmer motor supports.
	BrightnessSteps []int `yaml:"brightness_steps"`

	// Quantization selects how raw brightness values map onto the step
	// set: "nearest", "floor", or "ceil".
	Quantization string `yaml:"quantization"`

	// PublishMidFlight controls whether hardware feedback received while
	// a command is pending is republished (true) or suppressed (false).
	PublishMidFlight *bool `yaml:"publish_mid_flight"`
}

// DatabaseConfig contains SQLite snapshot store settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the optional
// weather history sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WMSBRIDGE_SECTION_KEY
// For example: WMSBRIDGE_MQTT_HOST, WMSBRIDGE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Name:            "wms-bridge",
			RootTopic:       "warema",
			DiscoveryPrefix: "homeassistant",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "wms-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Stick: StickConfig{
			Host:                  "localhost",
			Port:                  2301,
			Channel:               17,
			PANID:                 "FFFF",
			ReconnectInitialDelay: 1,
			ReconnectMaxDelay:     60,
		},
		Engine: EngineConfig{
			MinRawSpacingMs:           1000,
			EMAAlpha:                  0.2,
			WeatherPublishIntervalSec: 60,
			RainOnDelaySec:            10,
			RainOffDelaySec:           30,
			CommandTimeoutSec:         10,
			BrightnessSteps:           []int{0, 25, 50, 75, 100},
			Quantization:              "nearest",
		},
		Database: DatabaseConfig{
			Path:        "./data/wmsbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WMSBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("WMSBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WMSBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("WMSBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WMSBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Stick
	if v := os.Getenv("WMSBRIDGE_STICK_HOST"); v != "" {
		cfg.Stick.Host = v
	}
	if v := os.Getenv("WMSBRIDGE_STICK_CHANNEL"); v != "" {
		if ch, err := strconv.Atoi(v); err == nil {
			cfg.Stick.Channel = ch
		}
	}
	if v := os.Getenv("WMSBRIDGE_STICK_PAN_ID"); v != "" {
		cfg.Stick.PANID = v
	}

	// Database
	if v := os.Getenv("WMSBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("WMSBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.RootTopic == "" {
		errs = append(errs, "bridge.root_topic is required")
	}
	if strings.ContainsAny(c.Bridge.RootTopic, "#+") {
		errs = append(errs, "bridge.root_topic must not contain MQTT wildcards")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Stick.Port < 1 || c.Stick.Port > 65535 {
		errs = append(errs, "stick.port must be between 1 and 65535")
	}
	const maxWMSChannel = 22
	if c.Stick.Channel < 1 || c.Stick.Channel > maxWMSChannel {
		errs = append(errs, "stick.channel must be between 1 and 22")
	}
	const panIDLength = 4
	if len(c.Stick.PANID) != panIDLength {
		errs = append(errs, "stick.pan_id must be four hex digits")
	}

	if c.Engine.EMAAlpha <= 0 || c.Engine.EMAAlpha > 1 {
		errs = append(errs, "engine.ema_alpha must be in (0,1]")
	}
	switch c.Engine.Quantization {
	case "", "nearest", "floor", "ceil":
	default:
		errs = append(errs, "engine.quantization must be nearest, floor, or ceil")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetMQTTInitialDelay returns the MQTT reconnect initial delay as a Duration.
func (c *Config) GetMQTTInitialDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second
}

// GetMQTTMaxDelay returns the MQTT reconnect maximum delay as a Duration.
func (c *Config) GetMQTTMaxDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.MaxDelay) * time.Second
}

// GetStickInitialDelay returns the stick reconnect initial delay as a Duration.
func (c *Config) GetStickInitialDelay() time.Duration {
	return time.Duration(c.Stick.ReconnectInitialDelay) * time.Second
}

// GetStickMaxDelay returns the stick reconnect maximum delay as a Duration.
func (c *Config) GetStickMaxDelay() time.Duration {
	return time.Duration(c.Stick.ReconnectMaxDelay) * time.Second
}
