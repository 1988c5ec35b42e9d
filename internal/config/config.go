// Package config loads and validates the message bus's configuration from
// a YAML file, environment variables, and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the top-level configuration tree.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Bus     BusConfig     `mapstructure:"bus"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	BasePath     string        `mapstructure:"base_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// BackendConfig selects and configures the Backend Contract implementation.
type BackendConfig struct {
	Kind string `mapstructure:"kind"` // "redis", "postgres", or "memory"

	// Redis
	RedisURL      string `mapstructure:"redis_url"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Postgres
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// BusConfig contains backlog trimming and long-poll tuning shared across
// backends and the HTTP handler.
type BusConfig struct {
	MaxBacklogSize       uint64        `mapstructure:"max_backlog_size"`
	MaxGlobalBacklogSize uint64        `mapstructure:"max_global_backlog_size"`
	MaxBacklogAge        time.Duration `mapstructure:"max_backlog_age"`
	ClearEvery           uint64        `mapstructure:"clear_every"`
	LongPollTimeout      time.Duration `mapstructure:"long_poll_timeout"`
	KeepaliveInterval    time.Duration `mapstructure:"keepalive_interval"`
}

// LoggingConfig controls the zerolog writer and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file (./messagebus.yaml, ./config, or
// /etc/messagebus), environment variables prefixed MESSAGEBUS_, and an
// optional .env file, then validates the result.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("messagebus")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/messagebus")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MESSAGEBUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() error {
	locations := []string{".env", ".env.local", "../.env"}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.base_path", "/message-bus")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "90s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.body_limit", 2*1024*1024) // 2MB, publish bodies are small

	viper.SetDefault("backend.kind", "memory")
	viper.SetDefault("backend.redis_addr", "127.0.0.1:6379")
	viper.SetDefault("backend.redis_db", 0)

	viper.SetDefault("bus.max_backlog_size", 1000)
	viper.SetDefault("bus.max_global_backlog_size", 2000)
	viper.SetDefault("bus.max_backlog_age", "24h")
	viper.SetDefault("bus.clear_every", 1)
	viper.SetDefault("bus.long_poll_timeout", "25s")
	viper.SetDefault("bus.keepalive_interval", "20s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.pretty", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}

// Validate checks every section in turn.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Backend.Validate(); err != nil {
		return err
	}
	if err := c.Bus.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks ServerConfig.
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}
	if sc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if sc.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if sc.BodyLimit <= 0 {
		return fmt.Errorf("body_limit must be positive")
	}
	return nil
}

// Validate checks BackendConfig against the closed set of supported kinds.
func (bc *BackendConfig) Validate() error {
	switch bc.Kind {
	case "redis":
		if bc.RedisURL == "" && bc.RedisAddr == "" {
			return fmt.Errorf("backend redis_url or redis_addr is required when backend.kind is redis")
		}
	case "postgres":
		if bc.PostgresDSN == "" {
			return fmt.Errorf("backend postgres_dsn is required when backend.kind is postgres")
		}
	case "memory":
		// no external configuration required
	default:
		return fmt.Errorf("invalid backend kind: %s (must be one of: redis, postgres, memory)", bc.Kind)
	}
	return nil
}

// Validate checks BusConfig.
func (bc *BusConfig) Validate() error {
	if bc.MaxBacklogAge < 0 {
		return fmt.Errorf("max_backlog_age cannot be negative")
	}
	if bc.ClearEvery == 0 {
		return fmt.Errorf("clear_every must be at least 1")
	}
	if bc.LongPollTimeout <= 0 {
		return fmt.Errorf("long_poll_timeout must be positive")
	}
	if bc.KeepaliveInterval <= 0 {
		return fmt.Errorf("keepalive_interval must be positive")
	}
	if bc.KeepaliveInterval >= bc.LongPollTimeout {
		return fmt.Errorf("keepalive_interval must be less than long_poll_timeout")
	}
	return nil
}

// Validate checks LoggingConfig.
func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid logging level: %s (must be one of: debug, info, warn, error)", lc.Level)
	}
}
