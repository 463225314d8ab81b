// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"eink-power-cli/internal/protocol"
)

const (
	EnvPrefix      = "EINK_POWER"
	ConfigName     = "eink-power-cli"
	FormatHuman    = "human"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	DefaultLogFile = "./logs/eink-power-cli.log"
)

// Config represents the application configuration
type Config struct {
	Serial    protocol.SerialConfig `mapstructure:"serial"`
	Protocol  ProtocolConfig        `mapstructure:"protocol"`
	Output    OutputConfig          `mapstructure:"output"`
	Monitor   MonitorConfig         `mapstructure:"monitor"`
	Server    ServerConfig          `mapstructure:"server"`
	MQTT      MQTTConfig            `mapstructure:"mqtt"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`
	Discovery DiscoveryConfig       `mapstructure:"discovery"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	App       AppConfig             `mapstructure:"app"`
}

// ProtocolConfig tunes prompt detection and transaction timing
type ProtocolConfig struct {
	Prompts      []string      `mapstructure:"prompts"`
	DrainWindow  time.Duration `mapstructure:"drain_window"`
	ResyncWindow time.Duration `mapstructure:"resync_window"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	ReadSize     int           `mapstructure:"read_size"`
}

// OutputConfig selects the renderer
type OutputConfig struct {
	Format string `mapstructure:"format"`
	Raw    bool   `mapstructure:"raw"`
}

// MonitorConfig represents continuous monitoring defaults
type MonitorConfig struct {
	Command  string        `mapstructure:"command"`
	Interval time.Duration `mapstructure:"interval"`
	Count    int           `mapstructure:"count"`
}

// ServerConfig represents HTTP bridge configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	Mode           string        `mapstructure:"mode"`
}

// MQTTConfig represents the telemetry sink
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	Retain         bool          `mapstructure:"retain"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// DiscoveryConfig lists network serial bridges checked by "ports"
type DiscoveryConfig struct {
	TCPEndpoints []string      `mapstructure:"tcp_endpoints"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// New returns a viper instance with defaults and environment binding applied
func New() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Load reads the optional config file and decodes the configuration.
// An explicit file must exist; the search path is optional.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/" + ConfigName)
		v.AddConfigPath("/etc/" + ConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Serial defaults
	v.SetDefault("serial.device", protocol.DefaultDevice)
	v.SetDefault("serial.baud_rate", protocol.DefaultBaudRate)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.timeout", protocol.DefaultTimeout.String())
	v.SetDefault("serial.terminator", protocol.DefaultTerminator)
	v.SetDefault("serial.poll_interval", protocol.DefaultPollInterval.String())

	// Protocol defaults
	v.SetDefault("protocol.prompts", protocol.DefaultPrompts)
	v.SetDefault("protocol.drain_window", "100ms")
	v.SetDefault("protocol.resync_window", "500ms")
	v.SetDefault("protocol.reset_timeout", "1s")
	v.SetDefault("protocol.read_size", 1024)

	// Output defaults
	v.SetDefault("output.format", FormatHuman)
	v.SetDefault("output.raw", false)

	// Monitor defaults
	v.SetDefault("monitor.command", "battery read")
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.count", 0)

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8086")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.mode", "release")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", ConfigName)
	v.SetDefault("mqtt.topic_prefix", "eink/power")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.connect_timeout", "10s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "eink_power")

	v.SetDefault("discovery.tcp_endpoints", []string{})
	v.SetDefault("discovery.dial_timeout", "2s")

	// Logging defaults
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", ConfigName)
	v.SetDefault("app.version", "dev")
}

// validate validates the configuration
func validate(config *Config) error {
	if err := config.Serial.Validate(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if config.Serial.Timeout <= 0 {
		return fmt.Errorf("serial.timeout must be positive")
	}
	if config.Protocol.ResetTimeout <= 0 {
		return fmt.Errorf("protocol.reset_timeout must be positive")
	}

	if !oneOf(config.Output.Format, FormatHuman, FormatJSON, FormatCSV) {
		return fmt.Errorf("output.format must be one of: %v", []string{FormatHuman, FormatJSON, FormatCSV})
	}

	if config.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if config.Monitor.Count < 0 {
		return fmt.Errorf("monitor.count must not be negative")
	}

	if config.MQTT.Enabled {
		if config.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if config.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !oneOf(config.Logging.Level, validLevels...) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	if !oneOf(config.Logging.Format, "json", "console") {
		return fmt.Errorf("logging.format must be json or console")
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// EngineConfig returns the transaction engine settings
func (c *Config) EngineConfig() protocol.EngineConfig {
	return protocol.EngineConfig{
		Timeout:      c.Serial.Timeout,
		DrainWindow:  c.Protocol.DrainWindow,
		ResyncWindow: c.Protocol.ResyncWindow,
		ReadSize:     c.Protocol.ReadSize,
	}
}

// IsDebugEnabled checks if debug logging is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.Logging.Level == "debug"
}
