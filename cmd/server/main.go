package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcoot/rpsleague/internal/api"
	"github.com/mcoot/rpsleague/internal/bus/redisbus"
	"github.com/mcoot/rpsleague/internal/config"
	"github.com/mcoot/rpsleague/internal/factory"
	"github.com/mcoot/rpsleague/internal/outbox"
	"github.com/mcoot/rpsleague/internal/sse"
	redisstorage "github.com/mcoot/rpsleague/internal/storage/redis"
	"github.com/mcoot/rpsleague/internal/telemetry"
)

const serviceName = "rpsleague"

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()

	// Set up logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		logger.Error("failed to set up tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Build factory config
	factoryCfg := factory.Config{
		Logger:      logger,
		Tracer:      tracerProvider.Tracer(telemetry.TracerName),
		StorageType: cfg.StorageType,
		SQLitePath:  cfg.SQLitePath,
		BusType:     cfg.BusType,
		Outbox:      outbox.Config{Interval: cfg.OutboxInterval},
	}
	if cfg.RedisURL != "" {
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		factoryCfg.RedisConfig = &redisCfg
	}
	if cfg.BusType == factory.BusTypeRedis {
		busCfg := redisbus.DefaultConfig()
		busCfg.Consumer = cfg.BusConsumer
		factoryCfg.RedisBusConfig = busCfg
		factoryCfg.StreamConsumer = sse.Consumer + "-" + cfg.BusConsumer
	}

	// Create application factory
	app, err := factory.New(factoryCfg)
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		logger.Error("failed to start notification bus", slog.String("error", err.Error()))
		_ = app.Close()
		os.Exit(1)
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Logger:          logger,
		Metrics:         app.Metrics,
		PlayerService:   app.PlayerService,
		LobbyController: app.LobbyController,
		GameController:  app.GameController,
		Leaderboard:     app.Leaderboard,
		Streams:         app.Streams,
	})

	// Create server
	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.HTTPHost
	serverConfig.Port = cfg.HTTPPort
	serverConfig.ShutdownTimeout = cfg.ShutdownTimeout
	server := api.NewServer(router, serverConfig, logger)
	if err := server.Listen(); err != nil {
		logger.Error("failed to listen", slog.String("error", err.Error()))
		_ = app.Close()
		os.Exit(1)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started",
		slog.String("addr", server.Addr()),
		slog.String("storage", cfg.StorageType),
		slog.String("bus", cfg.BusType),
	)

	// Wait for shutdown or error
	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		// open streams would otherwise hold Shutdown until its timeout
		app.Streams.Close()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	if err := app.Close(); err != nil {
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
