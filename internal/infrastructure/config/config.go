package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every environment override, e.g. KM200_DEVICE_HOST.
const envPrefix = "KM200"

// Deployment modes select which sinks receive decoded values.
const (
	ModeExporter = "exporter" // Prometheus metrics only
	ModeMQTT     = "mqtt"     // MQTT state/meta topics and write-back only
	ModeBoth     = "both"
)

// Config is the root configuration structure for km200-bridge.
type Config struct {
	Mode     string         `mapstructure:"mode"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Device   DeviceConfig   `mapstructure:"device"`
	Poll     PollConfig     `mapstructure:"poll"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	InfluxDB InfluxDBConfig `mapstructure:"influxdb"`
	Database DatabaseConfig `mapstructure:"database"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BridgeConfig contains bridge identity and health reporting settings.
type BridgeConfig struct {
	ID             string        `mapstructure:"id"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// DeviceConfig contains heating gateway connection settings.
type DeviceConfig struct {
	// Host is the gateway address, with optional port (e.g. "192.168.1.20").
	Host string `mapstructure:"host"`

	// Passcode is the hex encoded AES key shared with the gateway.
	// WARNING: Never log this value.
	Passcode string `mapstructure:"passcode"`

	// UserAgent is sent on every request; gateway firmware allow-lists it.
	UserAgent string `mapstructure:"user_agent"`

	// Timeout bounds a single request round-trip.
	Timeout time.Duration `mapstructure:"timeout"`

	// RequestInterval is the minimum spacing between two requests. Zero disables spacing.
	RequestInterval time.Duration `mapstructure:"request_interval"`

	// UnreachableAfter is the number of consecutive failed fetches after which
	// the device is reported unreachable.
	UnreachableAfter int `mapstructure:"unreachable_after"`
}

// PollConfig contains polling cycle settings.
type PollConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	MeasurementsFile string        `mapstructure:"measurements_file"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `mapstructure:"broker"`
	Auth        MQTTAuthConfig      `mapstructure:"auth"`
	QoS         int                 `mapstructure:"qos"`
	Reconnect   MQTTReconnectConfig `mapstructure:"reconnect"`
	TopicPrefix string              `mapstructure:"topic_prefix"`
	QueueSize   int                 `mapstructure:"queue_size"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	TLS      bool   `mapstructure:"tls"`
	Insecure bool   `mapstructure:"insecure"`
	ClientID string `mapstructure:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `mapstructure:"initial_delay"`
	MaxDelay     int `mapstructure:"max_delay"`
}

// MetricsConfig contains the Prometheus exporter listener settings.
type MetricsConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`

	// OnValue is the device string that maps to gauge value 1.0.
	OnValue string `mapstructure:"on_value"`
}

// InfluxDBConfig contains InfluxDB connection settings for the history sink.
type InfluxDBConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	Org           string `mapstructure:"org"`
	Bucket        string `mapstructure:"bucket"`
	BatchSize     int    `mapstructure:"batch_size"`
	FlushInterval int    `mapstructure:"flush_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `mapstructure:"path"`
	WALMode     bool   `mapstructure:"wal_mode"`
	BusyTimeout int    `mapstructure:"busy_timeout"`
}

// AuditConfig controls the write-back audit trail.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (setDefaults)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KM200_SECTION_KEY
// For example: KM200_DEVICE_PASSCODE, KM200_MQTT_AUTH_PASSWORD
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve overrides
// for keys that are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeBoth)

	v.SetDefault("bridge.id", "km200-bridge")
	v.SetDefault("bridge.health_interval", 30*time.Second)

	v.SetDefault("device.host", "")
	v.SetDefault("device.passcode", "")
	v.SetDefault("device.user_agent", "TeleHeater/2.2.3")
	v.SetDefault("device.timeout", 10*time.Second)
	v.SetDefault("device.request_interval", time.Duration(0))
	v.SetDefault("device.unreachable_after", 3)

	v.SetDefault("poll.interval", 60*time.Second)
	v.SetDefault("poll.measurements_file", "configs/measurements.yaml")

	v.SetDefault("mqtt.broker.host", "localhost")
	v.SetDefault("mqtt.broker.port", 1883)
	v.SetDefault("mqtt.broker.tls", false)
	v.SetDefault("mqtt.broker.insecure", false)
	v.SetDefault("mqtt.broker.client_id", "km200-bridge")
	v.SetDefault("mqtt.auth.username", "")
	v.SetDefault("mqtt.auth.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.reconnect.initial_delay", 1)
	v.SetDefault("mqtt.reconnect.max_delay", 60)
	v.SetDefault("mqtt.topic_prefix", "km200")
	v.SetDefault("mqtt.queue_size", 32)

	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", 3875)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.on_value", "on")

	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("influxdb.url", "http://localhost:8086")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "")
	v.SetDefault("influxdb.bucket", "km200")
	v.SetDefault("influxdb.batch_size", 100)
	v.SetDefault("influxdb.flush_interval", 10)

	v.SetDefault("database.path", "./data/km200-bridge.db")
	v.SetDefault("database.wal_mode", true)
	v.SetDefault("database.busy_timeout", 5)

	v.SetDefault("audit.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks the configuration for errors.
//
// All problems are collected so a single run reports every misconfiguration.
func (c *Config) Validate() error {
	var errs []string

	switch c.Mode {
	case ModeExporter, ModeMQTT, ModeBoth:
	default:
		errs = append(errs, fmt.Sprintf("mode must be %q, %q or %q", ModeExporter, ModeMQTT, ModeBoth))
	}

	if c.Device.Host == "" {
		errs = append(errs, "device.host is required")
	}

	if c.Device.Passcode == "" {
		errs = append(errs, "device.passcode is required (set KM200_DEVICE_PASSCODE environment variable)")
	} else if key, err := hex.DecodeString(c.Device.Passcode); err != nil {
		errs = append(errs, "device.passcode must be hex encoded")
	} else if n := len(key); n != 16 && n != 24 && n != 32 {
		errs = append(errs, "device.passcode must decode to 16, 24 or 32 bytes")
	}

	if c.Device.UnreachableAfter < 1 {
		errs = append(errs, "device.unreachable_after must be at least 1")
	}

	if c.Poll.Interval < time.Second {
		errs = append(errs, "poll.interval must be at least 1s")
	}
	if c.Poll.MeasurementsFile == "" {
		errs = append(errs, "poll.measurements_file is required")
	}

	if c.MQTTEnabled() {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required")
		}
	}

	if c.MetricsEnabled() && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	if c.Audit.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when audit is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// MetricsEnabled reports whether decoded values are exported as Prometheus gauges.
func (c *Config) MetricsEnabled() bool {
	return c.Mode == ModeExporter || c.Mode == ModeBoth
}

// MQTTEnabled reports whether the MQTT sink and write-back are active.
func (c *Config) MQTTEnabled() bool {
	return c.Mode == ModeMQTT || c.Mode == ModeBoth
}
