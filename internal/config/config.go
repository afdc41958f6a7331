// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Interact  InteractConfig  `mapstructure:"interact" yaml:"interact"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the controlled-side HTTP listener that hosts the
// WebSocket and SSE endpoints.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	BasePath        string        `mapstructure:"base_path" yaml:"base_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// TransportConfig tunes the controller-side carriers.
type TransportConfig struct {
	URL                  string        `mapstructure:"url" yaml:"url"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Reconnect            bool          `mapstructure:"reconnect" yaml:"reconnect"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// InteractConfig tunes the batched interaction executor.
type InteractConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DefaultWaitTimeout time.Duration `mapstructure:"default_wait_timeout" yaml:"default_wait_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "agentpulse")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:7465")
	v.SetDefault("server.base_path", "/control")
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Transport --
	v.SetDefault("transport.url", "ws://127.0.0.1:7465/control/ws")
	v.SetDefault("transport.dial_timeout", "10s")
	v.SetDefault("transport.request_timeout", "30s")
	v.SetDefault("transport.reconnect", true)
	v.SetDefault("transport.reconnect_delay", "2s")
	v.SetDefault("transport.max_reconnect_attempts", 5)

	// -- Interact --
	v.SetDefault("interact.poll_interval", "100ms")
	v.SetDefault("interact.default_wait_timeout", "5s")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that already has defaults, flags, and files merged in.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".agentpulse"), nil
}

// Load reads the configuration: defaults, then an optional config file, then
// AGENTPULSE_* environment variables. cfgFile may be empty, in which case
// the per-user config directory and the working directory are searched.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("agentpulse")
		v.SetConfigType("yaml")
		if dir, err := DefaultConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AGENTPULSE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return nil, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return NewConfigFromViper(v)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is a required configuration field")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be a positive duration")
	}
	if c.Transport.URL == "" {
		return fmt.Errorf("transport.url is a required configuration field")
	}
	if c.Transport.DialTimeout <= 0 {
		return fmt.Errorf("transport.dial_timeout must be a positive duration")
	}
	if c.Transport.Reconnect {
		if c.Transport.ReconnectDelay <= 0 {
			return fmt.Errorf("transport.reconnect_delay must be a positive duration")
		}
		if c.Transport.MaxReconnectAttempts <= 0 {
			return fmt.Errorf("transport.max_reconnect_attempts must be a positive integer")
		}
	}
	if c.Interact.PollInterval <= 0 {
		return fmt.Errorf("interact.poll_interval must be a positive duration")
	}
	return nil
}
