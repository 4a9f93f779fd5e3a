package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for beobridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Mozart    MozartConfig    `yaml:"mozart"`
}

// BridgeConfig contains bridge-wide identity settings.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"` // seconds
}

// DatabaseConfig contains SQLite database settings for the device registry.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains the HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings for playback metrics.
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

// DiscoveryConfig contains mDNS discovery settings.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
	// RescanInterval is how often to re-browse the network (seconds).
	RescanInterval int `yaml:"rescan_interval"`
}

// MozartConfig contains settings for the Mozart device connections.
type MozartConfig struct {
	// Devices lists statically configured devices. Discovered devices are
	// merged with this list via the registry.
	Devices []MozartDeviceConfig `yaml:"devices"`

	// ConnectTimeout is the WebSocket dial timeout (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectInterval is the initial delay between reconnection attempts (seconds).
	ReconnectInterval int `yaml:"reconnect_interval"`

	// LongPressMillis is the hold duration that turns a press into a long press.
	LongPressMillis int `yaml:"long_press_millis"`

	// VeryLongPressMillis is the additional hold duration, beyond the long
	// press threshold, that turns a long press into a very long press.
	VeryLongPressMillis int `yaml:"very_long_press_millis"`

	// WheelQuietMillis is the quiet period after which accumulated wheel
	// ticks are flushed as a single rotation event.
	WheelQuietMillis int `yaml:"wheel_quiet_millis"`
}

// MozartDeviceConfig identifies one statically configured device.
type MozartDeviceConfig struct {
	// JID is the Beolink identifier (e.g. "1234.1234567.12345678@products.bang-olufsen.com").
	JID string `yaml:"jid"`

	// Host is the device's IP address or hostname.
	Host string `yaml:"host"`

	// Name is an optional friendly name. Defaults to the device-reported name.
	Name string `yaml:"name"`

	// Model is an optional model name (e.g. "Beosound Balance").
	Model string `yaml:"model"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BEOBRIDGE_SECTION_KEY
// For example: BEOBRIDGE_DATABASE_PATH, BEOBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "beobridge",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/beobridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "beobridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Discovery: DiscoveryConfig{
			Enabled:        true,
			RescanInterval: 300,
		},
		Mozart: MozartConfig{
			ConnectTimeout:      10,
			ReconnectInterval:   5,
			LongPressMillis:     1500,
			VeryLongPressMillis: 2000,
			WheelQuietMillis:    250,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BEOBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BEOBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BEOBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BEOBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BEOBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BEOBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("BEOBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Mozart.LongPressMillis <= 0 {
		errs = append(errs, "mozart.long_press_millis must be positive")
	}
	if c.Mozart.VeryLongPressMillis <= 0 {
		errs = append(errs, "mozart.very_long_press_millis must be positive")
	}
	if c.Mozart.WheelQuietMillis <= 0 {
		errs = append(errs, "mozart.wheel_quiet_millis must be positive")
	}

	seen := make(map[string]bool, len(c.Mozart.Devices))
	for i, dev := range c.Mozart.Devices {
		if dev.JID == "" {
			errs = append(errs, fmt.Sprintf("mozart.devices[%d].jid is required", i))
			continue
		}
		if dev.Host == "" {
			errs = append(errs, fmt.Sprintf("mozart.devices[%d].host is required", i))
		}
		if seen[dev.JID] {
			errs = append(errs, fmt.Sprintf("mozart.devices[%d].jid is duplicated", i))
		}
		seen[dev.JID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetLongPress returns the long-press threshold as a Duration.
func (c *Config) GetLongPress() time.Duration {
	return time.Duration(c.Mozart.LongPressMillis) * time.Millisecond
}

// GetVeryLongPress returns the additional very-long-press threshold as a Duration.
func (c *Config) GetVeryLongPress() time.Duration {
	return time.Duration(c.Mozart.VeryLongPressMillis) * time.Millisecond
}

// GetWheelQuiet returns the wheel debounce quiet period as a Duration.
func (c *Config) GetWheelQuiet() time.Duration {
	return time.Duration(c.Mozart.WheelQuietMillis) * time.Millisecond
}
