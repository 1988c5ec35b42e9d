package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/backend/memorybackend"
	"github.com/yousty/message-bus/internal/backend/postgresbackend"
	"github.com/yousty/message-bus/internal/backend/redisbackend"
	"github.com/yousty/message-bus/internal/bus"
	"github.com/yousty/message-bus/internal/config"
	"github.com/yousty/message-bus/internal/httpapi"
	"github.com/yousty/message-bus/internal/observability"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// CLI flags
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("message-bus %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("starting message-bus")

	b, err := newBackend(context.Background(), cfg.Backend, cfg.Bus)
	if err != nil {
		logger.Fatal().Err(err).Str("kind", cfg.Backend.Kind).Msg("failed to construct backend")
	}

	metrics := observability.NewMetrics()

	engine := bus.NewEngine(b, bus.IdentityHooks{}, bus.NewFilterChain(), logger)
	engine.SetMetrics(metrics)

	loop := bus.NewLoop(engine)
	loop.Start(0)

	server := httpapi.NewServer(cfg, engine, metrics)

	go func() {
		logger.Info().Str("address", cfg.Server.Address).Msg("listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	engine.Shutdown()

	if err := loop.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("reliable-pubsub loop shutdown error")
	}

	if err := b.Destroy(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("backend destroy error")
	}

	logger.Info().Msg("shutdown complete")
}

// newLogger builds the process-wide zerolog.Logger from LoggingConfig:
// a console writer in "pretty" mode, JSON otherwise, at the configured
// level.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

// newBackend constructs the Backend Contract implementation selected by
// cfg.Kind (§4.2/§4.12). Redis is the canonical backend; Postgres and
// in-memory are the alternate implementations proving the contract is
// store-agnostic.
func newBackend(ctx context.Context, cfg config.BackendConfig, busCfg config.BusConfig) (backend.Backend, error) {
	switch cfg.Kind {
	case "redis":
		return redisbackend.New(redisbackend.Config{
			URL:                  cfg.RedisURL,
			Addr:                 cfg.RedisAddr,
			Password:             cfg.RedisPassword,
			DB:                   cfg.RedisDB,
			MaxBacklogSize:       busCfg.MaxBacklogSize,
			MaxGlobalBacklogSize: busCfg.MaxGlobalBacklogSize,
			MaxBacklogAge:        busCfg.MaxBacklogAge,
			ClearEvery:           busCfg.ClearEvery,
		})
	case "postgres":
		return postgresbackend.New(ctx, postgresbackend.Config{
			DSN:                  cfg.PostgresDSN,
			MaxBacklogSize:       busCfg.MaxBacklogSize,
			MaxGlobalBacklogSize: busCfg.MaxGlobalBacklogSize,
			MaxBacklogAge:        busCfg.MaxBacklogAge,
			ClearEvery:           busCfg.ClearEvery,
			SweepInterval:        5 * time.Minute,
		})
	case "memory":
		return memorybackend.New(memorybackend.Config{
			MaxBacklogSize:       busCfg.MaxBacklogSize,
			MaxGlobalBacklogSize: busCfg.MaxGlobalBacklogSize,
			MaxBacklogAge:        busCfg.MaxBacklogAge,
			ClearEvery:           busCfg.ClearEvery,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported backend kind: %s", cfg.Kind)
	}
}
