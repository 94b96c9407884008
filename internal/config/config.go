// Package config provides configuration management for streamrelay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "STREAMRELAY"

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 30 * time.Second
	defaultPublicBaseURL    = "http://localhost:8080"
	defaultMaxOpenConns     = 10
	defaultMaxIdleConns     = 5
	defaultConnMaxIdleTime  = 10 * time.Minute
	defaultHistoryRetention = 7 * 24 * time.Hour
	defaultHLSBaseDir       = "/tmp/hls"
	defaultSegmentDuration  = 2 * time.Second
	defaultWindowSize       = 3
	defaultSweepSchedule    = "@every 1m"
	defaultOrphanGrace      = 30 * time.Second
	defaultPruneSchedule    = "@daily"
	defaultMediaHost        = "localhost"
	defaultRelayPort        = 8554
	defaultConnectTimeout   = 10 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerSuccesses = 1
	defaultBreakerTimeout   = 30 * time.Second
	defaultProbeTimeout     = 10 * time.Second
	defaultCloseGrace       = 5 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"` // 0 for streaming responses
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	PublicBaseURL   string        `mapstructure:"public_base_url" yaml:"public_base_url"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig holds the session history database configuration.
type DatabaseConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	Driver           string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN              string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns     int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
	HistoryRetention time.Duration `mapstructure:"history_retention" yaml:"history_retention"`
	PruneSchedule    string        `mapstructure:"prune_schedule" yaml:"prune_schedule"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	HLS HLSConfig `mapstructure:"hls" yaml:"hls"`
}

// HLSConfig holds HLS output configuration.
type HLSConfig struct {
	BaseDir         string        `mapstructure:"base_dir" yaml:"base_dir"`
	SegmentDuration time.Duration `mapstructure:"segment_duration" yaml:"segment_duration"`
	WindowSize      int           `mapstructure:"window_size" yaml:"window_size"`
	SweepSchedule   string        `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
	OrphanGrace     time.Duration `mapstructure:"orphan_grace" yaml:"orphan_grace"`
}

// RelayConfig holds session manager configuration.
type RelayConfig struct {
	MediaHost      string               `mapstructure:"media_host" yaml:"media_host"`
	DefaultPort    int                  `mapstructure:"default_port" yaml:"default_port"`
	DefaultInput   string               `mapstructure:"default_input" yaml:"default_input"`
	ConnectTimeout time.Duration        `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds per-source circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath   string        `mapstructure:"binary_path" yaml:"binary_path"` // empty = auto-detect
	ProbePath    string        `mapstructure:"probe_path" yaml:"probe_path"`   // empty = auto-detect
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	CloseGrace   time.Duration `mapstructure:"close_grace" yaml:"close_grace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMRELAY_ and use underscores
// for nesting. Example: STREAMRELAY_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(".streamrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.AddConfigPath("/etc/streamrelay")
	}

	BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// BindEnv enables STREAMRELAY_ environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.public_base_url", defaultPublicBaseURL)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "streamrelay.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.history_retention", defaultHistoryRetention)
	v.SetDefault("database.prune_schedule", defaultPruneSchedule)

	// Storage defaults
	v.SetDefault("storage.hls.base_dir", defaultHLSBaseDir)
	v.SetDefault("storage.hls.segment_duration", defaultSegmentDuration)
	v.SetDefault("storage.hls.window_size", defaultWindowSize)
	v.SetDefault("storage.hls.sweep_schedule", defaultSweepSchedule)
	v.SetDefault("storage.hls.orphan_grace", defaultOrphanGrace)

	// Relay defaults
	v.SetDefault("relay.media_host", defaultMediaHost)
	v.SetDefault("relay.default_port", defaultRelayPort)
	v.SetDefault("relay.default_input", "")
	v.SetDefault("relay.connect_timeout", defaultConnectTimeout)
	v.SetDefault("relay.circuit_breaker.failure_threshold", defaultBreakerFailures)
	v.SetDefault("relay.circuit_breaker.success_threshold", defaultBreakerSuccesses)
	v.SetDefault("relay.circuit_breaker.timeout", defaultBreakerTimeout)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)
	v.SetDefault("ffmpeg.close_grace", defaultCloseGrace)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Database.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.Database.Driver] {
			return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required")
		}
	}

	if c.Storage.HLS.BaseDir == "" {
		return fmt.Errorf("storage.hls.base_dir is required")
	}
	if c.Storage.HLS.WindowSize < 1 {
		return fmt.Errorf("storage.hls.window_size must be at least 1")
	}
	if c.Storage.HLS.SegmentDuration <= 0 {
		return fmt.Errorf("storage.hls.segment_duration must be positive")
	}

	if c.Relay.DefaultPort < 1 || c.Relay.DefaultPort > maxPort {
		return fmt.Errorf("relay.default_port must be between 1 and %d", maxPort)
	}
	if c.Relay.ConnectTimeout <= 0 {
		return fmt.Errorf("relay.connect_timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
