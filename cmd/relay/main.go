package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/relay/internal/config"
	"github.com/gosuda/relay/internal/letta"
	"github.com/gosuda/relay/internal/pipeline"
	"github.com/gosuda/relay/internal/server"
	redisstore "github.com/gosuda/relay/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("RELAY_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("RELAY_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to Redis when configured. The relay works without it; the
	// response cache and WebSocket observers just stay disabled.
	var store *redisstore.Store
	if cfg.Redis.Addr != "" {
		store, err = redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	// Create the agent transport.
	client := letta.New(letta.OptionsFromConfig(cfg.Agent))

	// Wire the pipeline. The cache and publisher are only live with Redis.
	var cache pipeline.Cache
	var pub pipeline.Publisher
	if store != nil {
		cache = store
		pub = store
	}
	pipe := pipeline.New(cfg, client, cache, pub, pipeline.Hooks{})

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if startErr := pipe.Start(ctx); startErr != nil {
		return startErr
	}

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, pipe, store)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("agent_id", cfg.Agent.AgentID).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	if stopErr := pipe.Stop(shutdownCtx); stopErr != nil {
		return stopErr
	}

	log.Info().Msg("stopped")
	return nil
}
