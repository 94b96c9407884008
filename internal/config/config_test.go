package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Enabled:  true,
			Driver:   "sqlite",
			DSN:      "test.db",
			LogLevel: "warn",
		},
		Storage: StorageConfig{HLS: HLSConfig{
			BaseDir:         "/tmp/hls",
			SegmentDuration: 2 * time.Second,
			WindowSize:      3,
		}},
		Relay: RelayConfig{
			MediaHost:      "localhost",
			DefaultPort:    8554,
			ConnectTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
	assert.Equal(t, "http://localhost:8080", cfg.Server.PublicBaseURL)

	// Database defaults
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "streamrelay.db", cfg.Database.DSN)
	assert.Equal(t, 7*24*time.Hour, cfg.Database.HistoryRetention)

	// Storage defaults
	assert.Equal(t, "/tmp/hls", cfg.Storage.HLS.BaseDir)
	assert.Equal(t, 2*time.Second, cfg.Storage.HLS.SegmentDuration)
	assert.Equal(t, 3, cfg.Storage.HLS.WindowSize)
	assert.Equal(t, "@every 1m", cfg.Storage.HLS.SweepSchedule)

	// Relay defaults
	assert.Equal(t, "localhost", cfg.Relay.MediaHost)
	assert.Equal(t, 8554, cfg.Relay.DefaultPort)
	assert.Equal(t, 10*time.Second, cfg.Relay.ConnectTimeout)
	assert.Equal(t, 5, cfg.Relay.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Relay.CircuitBreaker.Timeout)

	// FFmpeg defaults
	assert.Empty(t, cfg.FFmpeg.BinaryPath)
	assert.Equal(t, 10*time.Second, cfg.FFmpeg.ProbeTimeout)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, time.RFC3339, cfg.Logging.TimeFormat)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  public_base_url: "https://relay.example.com"
storage:
  hls:
    base_dir: "/var/lib/streamrelay/hls"
    segment_duration: 4s
    window_size: 6
relay:
  media_host: "mediamtx"
  connect_timeout: 5s
logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://relay.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, "/var/lib/streamrelay/hls", cfg.Storage.HLS.BaseDir)
	assert.Equal(t, 4*time.Second, cfg.Storage.HLS.SegmentDuration)
	assert.Equal(t, 6, cfg.Storage.HLS.WindowSize)
	assert.Equal(t, "mediamtx", cfg.Relay.MediaHost)
	assert.Equal(t, 5*time.Second, cfg.Relay.ConnectTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Unset keys keep their defaults
	assert.Equal(t, 8554, cfg.Relay.DefaultPort)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STREAMRELAY_SERVER_PORT", "3000")
	t.Setenv("STREAMRELAY_LOGGING_LEVEL", "warn")
	t.Setenv("STREAMRELAY_STORAGE_HLS_WINDOW_SIZE", "10")
	t.Setenv("STREAMRELAY_RELAY_CONNECT_TIMEOUT", "15s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Storage.HLS.WindowSize)
	assert.Equal(t, 15*time.Second, cfg.Relay.ConnectTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  port: 9090\n"), 0o644)
	require.NoError(t, err)

	t.Setenv("STREAMRELAY_SERVER_PORT", "7070")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server: [unterminated"), 0o644)
	require.NoError(t, err)

	_, err = Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STREAMRELAY_STORAGE_HLS_WINDOW_SIZE", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window_size")
}

func TestFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("relay.default_input", "rtsp://camera.local/stream")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "rtsp://camera.local/stream", cfg.Relay.DefaultInput)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "port zero", modify: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "port too high", modify: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "bad driver", modify: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "database.driver"},
		{name: "missing dsn", modify: func(c *Config) { c.Database.DSN = "" }, wantErr: "database.dsn"},
		{
			name: "database disabled skips driver check",
			modify: func(c *Config) {
				c.Database.Enabled = false
				c.Database.Driver = ""
			},
		},
		{name: "empty hls dir", modify: func(c *Config) { c.Storage.HLS.BaseDir = "" }, wantErr: "base_dir"},
		{name: "zero window", modify: func(c *Config) { c.Storage.HLS.WindowSize = 0 }, wantErr: "window_size"},
		{name: "zero segment", modify: func(c *Config) { c.Storage.HLS.SegmentDuration = 0 }, wantErr: "segment_duration"},
		{name: "relay port", modify: func(c *Config) { c.Relay.DefaultPort = -1 }, wantErr: "relay.default_port"},
		{name: "connect timeout", modify: func(c *Config) { c.Relay.ConnectTimeout = 0 }, wantErr: "connect_timeout"},
		{name: "log level", modify: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "log format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
}
