package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: ServerConfig{
				Address:      ":8080",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
				BodyLimit:    1024 * 1024,
			},
			wantErr: false,
		},
		{
			name: "empty address",
			config: ServerConfig{
				Address:      "",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
				BodyLimit:    1024 * 1024,
			},
			wantErr: true,
			errMsg:  "server address cannot be empty",
		},
		{
			name: "zero read timeout",
			config: ServerConfig{
				Address:      ":8080",
				ReadTimeout:  0,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
				BodyLimit:    1024 * 1024,
			},
			wantErr: true,
			errMsg:  "read_timeout must be positive",
		},
		{
			name: "negative write timeout",
			config: ServerConfig{
				Address:      ":8080",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: -1 * time.Second,
				IdleTimeout:  60 * time.Second,
				BodyLimit:    1024 * 1024,
			},
			wantErr: true,
			errMsg:  "write_timeout must be positive",
		},
		{
			name: "zero idle timeout",
			config: ServerConfig{
				Address:      ":8080",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  0,
				BodyLimit:    1024 * 1024,
			},
			wantErr: true,
			errMsg:  "idle_timeout must be positive",
		},
		{
			name: "zero body limit",
			config: ServerConfig{
				Address:      ":8080",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
				BodyLimit:    0,
			},
			wantErr: true,
			errMsg:  "body_limit must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestBackendConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  BackendConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "memory requires nothing",
			config:  BackendConfig{Kind: "memory"},
			wantErr: false,
		},
		{
			name:    "redis with url",
			config:  BackendConfig{Kind: "redis", RedisURL: "redis://localhost:6379"},
			wantErr: false,
		},
		{
			name:    "redis with addr",
			config:  BackendConfig{Kind: "redis", RedisAddr: "127.0.0.1:6379"},
			wantErr: false,
		},
		{
			name:    "redis without url or addr",
			config:  BackendConfig{Kind: "redis"},
			wantErr: true,
			errMsg:  "redis_url or redis_addr is required",
		},
		{
			name:    "postgres with dsn",
			config:  BackendConfig{Kind: "postgres", PostgresDSN: "postgres://localhost/bus"},
			wantErr: false,
		},
		{
			name:    "postgres without dsn",
			config:  BackendConfig{Kind: "postgres"},
			wantErr: true,
			errMsg:  "postgres_dsn is required",
		},
		{
			name:    "invalid kind",
			config:  BackendConfig{Kind: "mongo"},
			wantErr: true,
			errMsg:  "invalid backend kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestBusConfig_Validate(t *testing.T) {
	validConfig := func() BusConfig {
		return BusConfig{
			MaxBacklogSize:       1000,
			MaxGlobalBacklogSize: 2000,
			MaxBacklogAge:        24 * time.Hour,
			ClearEvery:           1,
			LongPollTimeout:      25 * time.Second,
			KeepaliveInterval:    20 * time.Second,
		}
	}

	tests := []struct {
		name    string
		modify  func(*BusConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			modify:  func(c *BusConfig) {},
			wantErr: false,
		},
		{
			name:    "negative max backlog age",
			modify:  func(c *BusConfig) { c.MaxBacklogAge = -time.Hour },
			wantErr: true,
			errMsg:  "max_backlog_age cannot be negative",
		},
		{
			name:    "zero max backlog age is valid (disables TTL refresh)",
			modify:  func(c *BusConfig) { c.MaxBacklogAge = 0 },
			wantErr: false,
		},
		{
			name:    "zero clear every",
			modify:  func(c *BusConfig) { c.ClearEvery = 0 },
			wantErr: true,
			errMsg:  "clear_every must be at least 1",
		},
		{
			name:    "zero long poll timeout",
			modify:  func(c *BusConfig) { c.LongPollTimeout = 0 },
			wantErr: true,
			errMsg:  "long_poll_timeout must be positive",
		},
		{
			name:    "zero keepalive interval",
			modify:  func(c *BusConfig) { c.KeepaliveInterval = 0 },
			wantErr: true,
			errMsg:  "keepalive_interval must be positive",
		},
		{
			name:    "keepalive interval exceeds long poll timeout",
			modify:  func(c *BusConfig) { c.KeepaliveInterval = 30 * time.Second },
			wantErr: true,
			errMsg:  "keepalive_interval must be less than long_poll_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(&config)
			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
		errMsg  string
	}{
		{name: "debug is valid", config: LoggingConfig{Level: "debug"}, wantErr: false},
		{name: "info is valid", config: LoggingConfig{Level: "info"}, wantErr: false},
		{name: "warn is valid", config: LoggingConfig{Level: "warn"}, wantErr: false},
		{name: "error is valid", config: LoggingConfig{Level: "error"}, wantErr: false},
		{
			name:    "invalid level",
			config:  LoggingConfig{Level: "verbose"},
			wantErr: true,
			errMsg:  "invalid logging level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() Config {
		return Config{
			Server: ServerConfig{
				Address:      ":8080",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
				BodyLimit:    1024 * 1024,
			},
			Backend: BackendConfig{Kind: "memory"},
			Bus: BusConfig{
				MaxBacklogAge:     24 * time.Hour,
				ClearEvery:        1,
				LongPollTimeout:   25 * time.Second,
				KeepaliveInterval: 20 * time.Second,
			},
			Logging: LoggingConfig{Level: "info"},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		c := validConfig()
		require.NoError(t, c.Validate())
	})

	t.Run("propagates section error", func(t *testing.T) {
		c := validConfig()
		c.Backend.Kind = "invalid"
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid backend kind")
	})
}
